package occupation

// MatchType says which signal tied a query to an occupation.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchSynonym  MatchType = "synonym"
	MatchSemantic MatchType = "semantic"
)

// Priority orders match types for tie-breaking: exact beats synonym beats
// semantic.
func (m MatchType) Priority() int {
	switch m {
	case MatchExact:
		return 2
	case MatchSynonym:
		return 1
	default:
		return 0
	}
}
