package sparse

import "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"

// PhraseKind records where an indexed phrase came from.
type PhraseKind int

const (
	KindTitle PhraseKind = iota
	KindKeyword
	KindSynonym
)

// Document is the lexical view of one occupation.
type Document struct {
	Code     string              `json:"code"`
	Title    string              `json:"title"`
	Keywords []string            `json:"keywords"`
	Synonyms map[string][]string `json:"synonyms"`
}

// Match is one scored occupation returned by Query.
type Match struct {
	Code       string               `json:"code"`
	Score      float64              `json:"score"`
	MatchType  occupation.MatchType `json:"match_type"`
	Highlights []string             `json:"highlights,omitempty"`
}

type phrase struct {
	text      string
	canonical string
	terms     []string
	surfaces  []string
	kind      PhraseKind
	language  string
}

type document struct {
	code     string
	titleLen int
	phrases  []phrase
	terms    map[string]struct{}
}
