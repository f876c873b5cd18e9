package embedding

import (
	"unicode"

	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
)

// Detector guesses the language of free text.
type Detector interface {
	Detect(text string) (string, error)
}

type script struct {
	table *unicode.RangeTable
	lang  string
}

// Devanagari is shared by Hindi and Marathi; without a vocabulary model it
// resolves to Hindi, and Marathi queries must name their language.
var scripts = []script{
	{unicode.Devanagari, "hi"},
	{unicode.Tamil, "ta"},
	{unicode.Bengali, "bn"},
	{unicode.Latin, "en"},
}

// ScriptDetector picks the language whose script covers most letters of the
// text. Scripts that map to an unsupported language are ignored.
type ScriptDetector struct {
	supported map[string]struct{}
}

func NewScriptDetector(supported []string) *ScriptDetector {
	d := &ScriptDetector{supported: make(map[string]struct{}, len(supported))}
	for _, lang := range supported {
		d.supported[lang] = struct{}{}
	}
	return d
}

func (d *ScriptDetector) Detect(text string) (string, error) {
	counts := make([]int, len(scripts))
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsMark(r) {
			continue
		}
		for i, s := range scripts {
			if unicode.Is(s.table, r) {
				counts[i]++
				break
			}
		}
	}
	best, bestCount := "", 0
	for i, s := range scripts {
		if _, ok := d.supported[s.lang]; !ok {
			continue
		}
		if counts[i] > bestCount {
			best, bestCount = s.lang, counts[i]
		}
	}
	if best == "" {
		return "", apperrors.New(apperrors.ErrInvalidLanguage, "no supported script in text")
	}
	return best, nil
}
