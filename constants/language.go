package constants

import "strings"

// DefaultLanguage is used when detection has nothing to go on.
const DefaultLanguage = "en"

// languageAllowList maps identified codes to supported ones.
var languageAllowList = map[string]string{
	"en": "en",
	"hi": "hi",
	"ml": "ml",
}

// tesseractCodes maps supported codes to tesseract traineddata names.
var tesseractCodes = map[string]string{
	"en": "eng",
	"hi": "hin",
	"ml": "mal",
}

// CanonicalLanguage maps any language code through the allow-list,
// falling back to DefaultLanguage.
func CanonicalLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if l, ok := languageAllowList[code]; ok {
		return l
	}
	return DefaultLanguage
}

// CanonicalLanguages normalizes a caller supplied list, keeping order and dropping duplicates.
// Blank entries are ignored; an empty result means "unspecified".
func CanonicalLanguages(codes []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, c := range codes {
		if strings.TrimSpace(c) == "" {
			continue
		}
		l := CanonicalLanguage(c)
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// TesseractLang returns the "eng+hin" style argument for a set of supported languages.
func TesseractLang(langs []string) string {
	if len(langs) == 0 {
		return tesseractCodes[DefaultLanguage]
	}
	parts := make([]string, 0, len(langs))
	for _, l := range langs {
		parts = append(parts, tesseractCodes[CanonicalLanguage(l)])
	}
	return strings.Join(parts, "+")
}
