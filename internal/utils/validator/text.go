package validator

import (
	"strings"
	"unicode"
)

const (
	minReadableLen    = 3
	minLetterRatio    = 0.4
	maxUnusualRatio   = 0.1
	runTogetherMinLen = 20
	commonPunctuation = ".,;:!?()-[]{}\"'"
)

// IsReadable is a heuristic noise gate for OCR lines and embedded page text.
// It counts runes, not bytes, and has no side effects.
func IsReadable(text string) bool {
	var total, letters, spaces, unusual int
	for _, r := range text {
		total++
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsSpace(r):
			spaces++
		case unicode.IsNumber(r):
		case strings.ContainsRune(commonPunctuation, r):
		default:
			unusual++
		}
	}

	if total < minReadableLen {
		return false
	}
	if float64(letters) < float64(total)*minLetterRatio {
		return false
	}
	if float64(unusual) > float64(total)*maxUnusualRatio {
		return false
	}
	if total > runTogetherMinLen && spaces == 0 {
		return false
	}
	return true
}

// FilterReadable keeps the readable lines in their original order.
func FilterReadable(lines []string) []string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if IsReadable(line) {
			kept = append(kept, line)
		}
	}
	return kept
}
