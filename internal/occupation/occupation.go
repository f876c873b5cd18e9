// Package occupation holds the domain types shared by the catalog, the
// indexer and the searcher: NCO occupation codes with their five-level
// hierarchy, catalog records, and change-stream events.
package occupation

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
)

// CodeLength is the number of digits in a full occupation code.
const CodeLength = 8

// Level names one tier of the NCO hierarchy.
type Level string

const (
	LevelDivision      Level = "division"
	LevelMajorGroup    Level = "major_group"
	LevelSubMajorGroup Level = "sub_major_group"
	LevelMinorGroup    Level = "minor_group"
	LevelUnitGroup     Level = "unit_group"
)

// Levels lists the hierarchy from broadest to narrowest.
var Levels = []Level{LevelDivision, LevelMajorGroup, LevelSubMajorGroup, LevelMinorGroup, LevelUnitGroup}

// Digits returns the prefix length that identifies the level, or 0 for an
// unknown level.
func (l Level) Digits() int {
	for i, lvl := range Levels {
		if lvl == l {
			return i + 1
		}
	}
	return 0
}

// Code is an 8-digit occupation code such as "75320001".
type Code string

// ParseCode validates s and returns it as a Code.
func ParseCode(s string) (Code, error) {
	s = strings.TrimSpace(s)
	if len(s) != CodeLength {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, "occupation code %q must have %d digits", s, CodeLength)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", apperrors.Newf(apperrors.ErrInvalidInput, "occupation code %q must be numeric", s)
		}
	}
	return Code(s), nil
}

// Prefix returns the code truncated to the given level.
func (c Code) Prefix(level Level) string {
	n := level.Digits()
	if n == 0 || n > len(c) {
		return ""
	}
	return string(c[:n])
}

// HasPrefix reports whether the code sits under the hierarchy prefix p.
func (c Code) HasPrefix(p string) bool {
	return strings.HasPrefix(string(c), p)
}

// ValidatePrefix checks a hierarchy filter: 1 to 5 digits.
func ValidatePrefix(p string) error {
	if p == "" {
		return nil
	}
	if len(p) > len(Levels) {
		return apperrors.Newf(apperrors.ErrInvalidInput, "hierarchy prefix %q longer than %d digits", p, len(Levels))
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return apperrors.Newf(apperrors.ErrInvalidInput, "hierarchy prefix %q must be numeric", p)
		}
	}
	return nil
}

// Record is an occupation as stored in the catalog.
type Record struct {
	Code        Code                `json:"code"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Keywords    []string            `json:"keywords"`
	Synonyms    map[string][]string `json:"synonyms"`
}

// Hierarchy returns the five level prefixes of the record's code.
func (r Record) Hierarchy() map[Level]string {
	h := make(map[Level]string, len(Levels))
	for _, lvl := range Levels {
		h[lvl] = r.Code.Prefix(lvl)
	}
	return h
}

// EmbeddingText is the text embedded for language lang: title, description
// and keywords, plus the synonyms recorded for that language.
func (r Record) EmbeddingText(lang string) string {
	parts := []string{r.Title}
	if r.Description != "" {
		parts = append(parts, r.Description)
	}
	if len(r.Keywords) > 0 {
		parts = append(parts, strings.Join(r.Keywords, ", "))
	}
	parts = append(parts, r.Synonyms[lang]...)
	return strings.Join(parts, ". ")
}

// EventOp is the kind of change carried by an Event.
type EventOp string

const (
	OpUpsert EventOp = "upsert"
	OpDelete EventOp = "delete"
)

// Event announces a catalog change that the index must follow.
type Event struct {
	Op   EventOp `json:"op"`
	Code Code    `json:"code"`
}

func (e Event) Validate() error {
	if _, err := ParseCode(string(e.Code)); err != nil {
		return err
	}
	switch e.Op {
	case OpUpsert, OpDelete:
		return nil
	default:
		return fmt.Errorf("%w: unknown event op %q", apperrors.ErrInvalidInput, e.Op)
	}
}
