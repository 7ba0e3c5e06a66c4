package image

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/language"
)

// aliases covers codes that do not parse as BCP 47 or whose ISO 639-3 form
// differs from the traineddata name.
var aliases = map[string]string{
	"ch":      "chi_sim",
	"zh":      "chi_sim",
	"zh-hans": "chi_sim",
	"zh-cn":   "chi_sim",
	"zh-hant": "chi_tra",
	"zh-tw":   "chi_tra",
	"cht":     "chi_tra",
	"japan":   "jpn",
	"korean":  "kor",
	"german":  "deu",
	"french":  "fra",
	"latin":   "lat",
	"arabic":  "ara",
}

var traineddataName = regexp.MustCompile(`^[a-z]{3}(_[a-z]+)*$`)

// TesseractLanguages maps a user language setting ("en", "de+fr", "ch",
// "eng") to tesseract traineddata names.
func TesseractLanguages(code string) ([]string, error) {
	var out []string
	for _, part := range strings.FieldsFunc(code, func(r rune) bool { return r == '+' || r == ',' }) {
		lang, err := tesseractLanguage(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, lang)
	}
	if len(out) == 0 {
		return []string{"eng"}, nil
	}
	return out, nil
}

func tesseractLanguage(code string) (string, error) {
	lower := strings.ToLower(code)
	if alias, ok := aliases[lower]; ok {
		return alias, nil
	}
	if strings.Contains(lower, "_") && traineddataName.MatchString(lower) {
		return lower, nil
	}
	if tag, err := language.Parse(lower); err == nil {
		base, conf := tag.Base()
		if conf != language.No {
			if iso3 := base.ISO3(); iso3 != "" && iso3 != "und" {
				return iso3, nil
			}
		}
	}
	if traineddataName.MatchString(lower) {
		return lower, nil
	}
	return "", fmt.Errorf("unsupported language code %q", code)
}
