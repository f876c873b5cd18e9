// Package vector implements the dense half of hybrid retrieval: one vector
// space per language (or a single shared cross-lingual space) of
// unit-normalised embeddings, queried by cosine similarity.
//
// Each space is an immutable snapshot published through an atomic pointer.
// Writers are serialised and publish a fresh snapshot; readers load the
// current snapshot once and never block or observe a partial write.
package vector

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
)

// SharedSpace is the space name used when the index is cross-lingual.
const SharedSpace = "shared"

// Hit is one query result. Similarity is the cosine similarity in [-1, 1];
// hits are returned in descending similarity.
type Hit struct {
	Code       string  `json:"code"`
	Similarity float64 `json:"similarity"`
}

// Op is one mutation in an Apply batch. A nil Vector with Delete set removes
// the entry.
type Op struct {
	Code     string
	Language string
	Vector   []float32
	Delete   bool
}

type entry struct {
	code string
	vec  []float32
}

type snapshot struct {
	entries []*entry
	pos     map[string]int
}

var emptySnapshot = &snapshot{pos: map[string]int{}}

// Index is safe for concurrent use.
type Index struct {
	dim          int
	crossLingual bool
	languages    map[string]struct{}
	spaces       map[string]*atomic.Pointer[snapshot]
	writeMu      sync.Mutex
}

// New creates an empty index for the given languages. The set of spaces is
// fixed for the lifetime of the index.
func New(dimension int, languages []string, crossLingual bool) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dimension)
	}
	if len(languages) == 0 {
		return nil, fmt.Errorf("vector index needs at least one language")
	}
	idx := &Index{
		dim:          dimension,
		crossLingual: crossLingual,
		languages:    make(map[string]struct{}, len(languages)),
		spaces:       make(map[string]*atomic.Pointer[snapshot]),
	}
	for _, lang := range languages {
		idx.languages[lang] = struct{}{}
		space := idx.spaceName(lang)
		if _, ok := idx.spaces[space]; ok {
			continue
		}
		p := &atomic.Pointer[snapshot]{}
		p.Store(emptySnapshot)
		idx.spaces[space] = p
	}
	return idx, nil
}

// Dimension returns the configured vector length.
func (idx *Index) Dimension() int {
	return idx.dim
}

// Space maps a language onto the name of the space holding its vectors.
func (idx *Index) Space(language string) (string, error) {
	if _, ok := idx.languages[language]; !ok {
		return "", apperrors.Newf(apperrors.ErrInvalidLanguage, "no vector space for language %q", language)
	}
	return idx.spaceName(language), nil
}

// Spaces returns the space names in sorted order.
func (idx *Index) Spaces() []string {
	names := make([]string, 0, len(idx.spaces))
	for name := range idx.spaces {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (idx *Index) spaceName(language string) string {
	if idx.crossLingual {
		return SharedSpace
	}
	return language
}

// InsertOrUpdate stores vector for (code, language), replacing any previous
// vector.
func (idx *Index) InsertOrUpdate(code, language string, vector []float32) error {
	return idx.Apply([]Op{{Code: code, Language: language, Vector: vector}})
}

// Delete removes (code, language). Deleting an absent entry succeeds.
func (idx *Index) Delete(code, language string) error {
	return idx.Apply([]Op{{Code: code, Language: language, Delete: true}})
}

// Validate checks ops without applying them.
func (idx *Index) Validate(ops []Op) error {
	_, err := idx.prepare(ops)
	return err
}

type prepared struct {
	op    Op
	space string
	vec   []float32
}

func (idx *Index) prepare(ops []Op) ([]prepared, error) {
	batch := make([]prepared, 0, len(ops))
	for _, op := range ops {
		if op.Code == "" {
			return nil, apperrors.New(apperrors.ErrInvalidInput, "vector entry without code")
		}
		space, err := idx.Space(op.Language)
		if err != nil {
			return nil, err
		}
		p := prepared{op: op, space: space}
		if !op.Delete {
			vec, err := idx.normalize(op.Vector)
			if err != nil {
				return nil, fmt.Errorf("code %s: %w", op.Code, err)
			}
			p.vec = vec
		}
		batch = append(batch, p)
	}
	return batch, nil
}

// Apply validates every op and then publishes one new snapshot per touched
// space. If any op is invalid nothing is written.
func (idx *Index) Apply(ops []Op) error {
	batch, err := idx.prepare(ops)
	if err != nil {
		return err
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	next := make(map[string]map[string]*entry)
	for _, p := range batch {
		entries, ok := next[p.space]
		if !ok {
			cur := idx.spaces[p.space].Load()
			entries = make(map[string]*entry, len(cur.entries)+1)
			for _, e := range cur.entries {
				entries[e.code] = e
			}
			next[p.space] = entries
		}
		if p.op.Delete {
			delete(entries, p.op.Code)
			continue
		}
		entries[p.op.Code] = &entry{code: p.op.Code, vec: p.vec}
	}
	for space, entries := range next {
		idx.spaces[space].Store(buildSnapshot(entries))
	}
	return nil
}

func buildSnapshot(entries map[string]*entry) *snapshot {
	s := &snapshot{
		entries: make([]*entry, 0, len(entries)),
		pos:     make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		s.entries = append(s.entries, e)
	}
	slices.SortFunc(s.entries, func(a, b *entry) int { return strings.Compare(a.code, b.code) })
	for i, e := range s.entries {
		s.pos[e.code] = i
	}
	return s
}

// Query returns up to k entries of the language's space ordered by
// descending cosine similarity to vector, ties broken by code ascending.
func (idx *Index) Query(language string, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", apperrors.ErrInvalidInput, k)
	}
	space, err := idx.Space(language)
	if err != nil {
		return nil, err
	}
	q, err := idx.normalize(vector)
	if err != nil {
		return nil, err
	}
	snap := idx.spaces[space].Load()
	if len(snap.entries) == 0 {
		return nil, apperrors.Newf(apperrors.ErrEmptyIndex, "vector space %q", space)
	}
	return scan(snap, q, k, ""), nil
}

// Neighbors returns the k codes closest to the stored vector of code,
// excluding code itself.
func (idx *Index) Neighbors(code, language string, k int) ([]string, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", apperrors.ErrInvalidInput, k)
	}
	space, err := idx.Space(language)
	if err != nil {
		return nil, err
	}
	snap := idx.spaces[space].Load()
	i, ok := snap.pos[code]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "code %s has no vector in space %q", code, space)
	}
	hits := scan(snap, snap.entries[i].vec, k, code)
	codes := make([]string, len(hits))
	for j, h := range hits {
		codes[j] = h.Code
	}
	return codes, nil
}

// Contains reports whether (code, language) has a vector.
func (idx *Index) Contains(code, language string) bool {
	space, err := idx.Space(language)
	if err != nil {
		return false
	}
	_, ok := idx.spaces[space].Load().pos[code]
	return ok
}

// Len returns the number of vectors stored for language.
func (idx *Index) Len(language string) int {
	space, err := idx.Space(language)
	if err != nil {
		return 0
	}
	return len(idx.spaces[space].Load().entries)
}

// Sizes returns the entry count of every space.
func (idx *Index) Sizes() map[string]int {
	sizes := make(map[string]int, len(idx.spaces))
	for name, p := range idx.spaces {
		sizes[name] = len(p.Load().entries)
	}
	return sizes
}

// Reset empties every space.
func (idx *Index) Reset() {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()
	for _, p := range idx.spaces {
		p.Store(emptySnapshot)
	}
}

func scan(snap *snapshot, q []float32, k int, exclude string) []Hit {
	top := newTopK(k)
	for _, e := range snap.entries {
		if e.code == exclude {
			continue
		}
		top.offer(Hit{Code: e.code, Similarity: dot(q, e.vec)})
	}
	return top.sorted()
}

// normalize validates v and returns a unit-length copy.
func (idx *Index) normalize(v []float32) ([]float32, error) {
	if len(v) != idx.dim {
		return nil, apperrors.Newf(apperrors.ErrDimensionMismatch, "got %d, want %d", len(v), idx.dim)
	}
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, apperrors.New(apperrors.ErrInvalidVector, "non-finite component")
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidVector, "zero vector")
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return math.Max(-1, math.Min(1, sum))
}
