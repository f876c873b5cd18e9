// Package sparse implements the lexical half of hybrid retrieval: an
// inverted index from normalised terms to occupations, scored by
// IDF-weighted overlap between the query and an occupation's best phrase.
package sparse

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
)

// ExactScore is the score of a verbatim phrase match.
const ExactScore = 1.0

// Matcher is safe for concurrent use. Queries share a read lock; Index and
// Remove replace a document's postings under the write lock, so a query
// sees either the old document or the new one.
type Matcher struct {
	mu       sync.RWMutex
	docs     map[string]*document
	postings map[string]map[string]struct{}
	ceiling  float64
}

// NewMatcher returns an empty Matcher. partialCeiling caps non-exact scores
// and must lie in (0,1).
func NewMatcher(partialCeiling float64) *Matcher {
	if partialCeiling <= 0 || partialCeiling >= 1 {
		partialCeiling = 0.95
	}
	return &Matcher{
		docs:     make(map[string]*document),
		postings: make(map[string]map[string]struct{}),
		ceiling:  partialCeiling,
	}
}

// Index adds or replaces the lexical entry for doc.Code.
func (m *Matcher) Index(doc Document) error {
	if doc.Code == "" {
		return apperrors.New(apperrors.ErrInvalidInput, "sparse document without code")
	}
	d := buildDocument(doc)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(doc.Code)
	m.docs[d.code] = d
	for term := range d.terms {
		codes, ok := m.postings[term]
		if !ok {
			codes = make(map[string]struct{})
			m.postings[term] = codes
		}
		codes[d.code] = struct{}{}
	}
	return nil
}

// Remove deletes code from the index. Removing an absent code succeeds.
func (m *Matcher) Remove(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(code)
}

func (m *Matcher) removeLocked(code string) {
	old, ok := m.docs[code]
	if !ok {
		return
	}
	for term := range old.terms {
		codes := m.postings[term]
		delete(codes, code)
		if len(codes) == 0 {
			delete(m.postings, term)
		}
	}
	delete(m.docs, code)
}

// Query scores occupations against text and returns at most k matches,
// ordered by score descending, then shorter title, then code ascending.
// Matching is script based, so language only breaks ties between equally
// scoring phrases of one occupation.
func (m *Matcher) Query(language, text string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", apperrors.ErrInvalidInput, k)
	}
	tokens := tokenizer.Tokenize(text)
	canonical := joinTerms(tokens)
	queryTerms := uniqueTerms(tokens)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.docs) == 0 {
		return nil, apperrors.ErrEmptyIndex
	}
	if len(queryTerms) == 0 {
		return []Match{}, nil
	}

	idf := make(map[string]float64, len(queryTerms))
	var queryWeight float64
	candidates := make(map[string]struct{})
	for _, term := range queryTerms {
		codes := m.postings[term]
		idf[term] = computeIDF(len(m.docs), len(codes))
		queryWeight += idf[term]
		for code := range codes {
			candidates[code] = struct{}{}
		}
	}

	type scored struct {
		Match
		titleLen int
	}
	results := make([]scored, 0, len(candidates))
	for code := range candidates {
		d := m.docs[code]
		best, ok := m.scoreDocument(d, canonical, language, idf, queryWeight)
		if !ok {
			continue
		}
		results = append(results, scored{Match: best, titleLen: d.titleLen})
	}

	slices.SortFunc(results, func(a, b scored) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.titleLen, b.titleLen); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	if len(results) > k {
		results = results[:k]
	}
	out := make([]Match, len(results))
	for i, r := range results {
		out[i] = r.Match
	}
	return out, nil
}

func (m *Matcher) scoreDocument(d *document, canonical, language string, idf map[string]float64, queryWeight float64) (Match, bool) {
	var (
		best     Match
		bestLang bool
		found    bool
	)
	for _, p := range d.phrases {
		var candidate Match
		if p.canonical == canonical {
			candidate = Match{Code: d.code, Score: ExactScore, MatchType: occupation.MatchExact, Highlights: slices.Clone(p.surfaces)}
		} else {
			var overlap, phraseWeight float64
			var highlights []string
			for j, term := range p.terms {
				w, inQuery := idf[term]
				if !inQuery {
					w = m.termIDF(term)
				}
				phraseWeight += w
				if inQuery {
					overlap += w
					highlights = append(highlights, p.surfaces[j])
				}
			}
			if overlap == 0 {
				continue
			}
			dice := 2 * overlap / (queryWeight + phraseWeight)
			mt := occupation.MatchSemantic
			if p.kind == KindSynonym {
				mt = occupation.MatchSynonym
			}
			candidate = Match{Code: d.code, Score: roundScore(dice * m.ceiling), MatchType: mt, Highlights: highlights}
		}
		sameLang := p.language == "" || p.language == language
		switch {
		case !found,
			candidate.Score > best.Score,
			candidate.Score == best.Score && sameLang && !bestLang:
			best, bestLang, found = candidate, sameLang, true
		}
	}
	return best, found
}

// termIDF must be called with the read lock held.
func (m *Matcher) termIDF(term string) float64 {
	return computeIDF(len(m.docs), len(m.postings[term]))
}

// Suggest returns up to k distinct indexed phrases that start with prefix,
// shortest first. Synonyms are limited to language; titles and keywords are
// always eligible.
func (m *Matcher) Suggest(prefix, language string, k int) []string {
	folded := tokenizer.Fold(prefix)
	if folded == "" || k <= 0 {
		return []string{}
	}
	m.mu.RLock()
	seen := make(map[string]struct{})
	var out []string
	for _, d := range m.docs {
		for _, p := range d.phrases {
			if p.kind == KindSynonym && p.language != language {
				continue
			}
			if _, dup := seen[p.text]; dup {
				continue
			}
			if strings.HasPrefix(tokenizer.Fold(p.text), folded) {
				seen[p.text] = struct{}{}
				out = append(out, p.text)
			}
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b string) int {
		if c := cmp.Compare(utf8.RuneCountInString(a), utf8.RuneCountInString(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// DocCount returns the number of indexed occupations.
func (m *Matcher) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// TermCount returns the number of distinct indexed terms.
func (m *Matcher) TermCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.postings)
}

// Reset drops every document.
func (m *Matcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]*document)
	m.postings = make(map[string]map[string]struct{})
}

func buildDocument(doc Document) *document {
	d := &document{
		code:     doc.Code,
		titleLen: utf8.RuneCountInString(strings.TrimSpace(doc.Title)),
		terms:    make(map[string]struct{}),
	}
	seen := make(map[string]struct{})
	add := func(text string, kind PhraseKind, language string) {
		text = strings.TrimSpace(text)
		tokens := tokenizer.Tokenize(text)
		canonical := joinTerms(tokens)
		if canonical == "" {
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		p := phrase{text: text, canonical: canonical, kind: kind, language: language}
		inPhrase := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, dup := inPhrase[tok.Term]; dup {
				continue
			}
			inPhrase[tok.Term] = struct{}{}
			p.terms = append(p.terms, tok.Term)
			p.surfaces = append(p.surfaces, tok.Surface)
			d.terms[tok.Term] = struct{}{}
		}
		d.phrases = append(d.phrases, p)
	}

	add(doc.Title, KindTitle, "")
	for _, kw := range doc.Keywords {
		add(kw, KindKeyword, "")
	}
	languages := make([]string, 0, len(doc.Synonyms))
	for lang := range doc.Synonyms {
		languages = append(languages, lang)
	}
	slices.Sort(languages)
	for _, lang := range languages {
		for _, syn := range doc.Synonyms[lang] {
			add(syn, KindSynonym, lang)
		}
	}
	return d
}

func joinTerms(tokens []tokenizer.Token) string {
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	return strings.Join(terms, " ")
}

func uniqueTerms(tokens []tokenizer.Token) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, dup := seen[tok.Term]; dup {
			continue
		}
		seen[tok.Term] = struct{}{}
		out = append(out, tok.Term)
	}
	return out
}

// computeIDF is a smoothed inverse document frequency that stays positive
// even when a term occurs in every document.
func computeIDF(totalDocs int, docFreq int) float64 {
	return math.Log(1 + (float64(totalDocs)+1)/(float64(docFreq)+0.5))
}

func roundScore(s float64) float64 {
	return math.Round(s*10000) / 10000
}
