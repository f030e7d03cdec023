package extract

import (
	"regexp"
	"strings"
)

// DefaultLanguages is the OCR hint when the display name carries no
// recognizable language marker. The document corpus is bilingual.
var DefaultLanguages = []string{"eng", "hun"}

// languageCodes maps filename markers to ISO 639-2 codes the OCR engine
// understands. Markers are matched case-insensitively between separators,
// e.g. "szerzodes_hun.pdf" or "report-polish.docx".
var languageCodes = map[string]string{
	"hun":      "hun",
	"magyar":   "hun",
	"eng":      "eng",
	"english":  "eng",
	"ces":      "ces",
	"czech":    "ces",
	"slk":      "slk",
	"slovak":   "slk",
	"pol":      "pol",
	"polish":   "pol",
	"deu":      "deu",
	"german":   "deu",
	"fra":      "fra",
	"french":   "fra",
	"spa":      "spa",
	"spanish":  "spa",
	"ita":      "ita",
	"italian":  "ita",
	"ron":      "ron",
	"romanian": "ron",
}

// languageMarkerOrder fixes the alternation order of the marker pattern.
var languageMarkerOrder = []string{
	"hun", "magyar", "eng", "english", "ces", "czech", "slk", "slovak",
	"pol", "polish", "deu", "german", "fra", "french", "spa", "spanish",
	"ita", "italian", "ron", "romanian",
}

var languageMarkerPattern = regexp.MustCompile(
	`[_\-](` + strings.Join(languageMarkerOrder, "|") + `)[_\-.]`,
)

// LanguageHint derives the OCR language list from a display name. An
// explicit marker wins; otherwise defaults are returned (DefaultLanguages
// when defaults is empty).
func LanguageHint(name string, defaults []string) []string {
	m := languageMarkerPattern.FindStringSubmatch(strings.ToLower(name))
	if m != nil {
		return []string{languageCodes[m[1]]}
	}
	if len(defaults) > 0 {
		return defaults
	}
	return DefaultLanguages
}

// LanguageTag renders a language list in the engine's convention.
func LanguageTag(languages []string) string {
	return strings.Join(languages, "+")
}
