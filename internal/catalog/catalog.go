// Package catalog is the source of truth for occupation records. The index
// is derived from it and can always be rebuilt from it.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
)

// Catalog is the read-only view the engine needs.
type Catalog interface {
	Lookup(ctx context.Context, code occupation.Code) (occupation.Record, error)
	ListAll(ctx context.Context) ([]occupation.Record, error)
}

// Browser adds hierarchy listing to Catalog for the query surfaces.
type Browser interface {
	Catalog
	ByHierarchy(ctx context.Context, level occupation.Level, value string) ([]occupation.Record, error)
}

// checkHierarchy validates a level name and the prefix it selects.
func checkHierarchy(level occupation.Level, value string) error {
	digits := level.Digits()
	if digits == 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "unknown hierarchy level %q", level)
	}
	if len(value) != digits {
		return apperrors.Newf(apperrors.ErrInvalidInput, "%s needs a %d digit value, got %q", level, digits, value)
	}
	return occupation.ValidatePrefix(value)
}

// Static is an in-memory Catalog over a fixed set of records.
type Static struct {
	mu      sync.RWMutex
	records map[occupation.Code]occupation.Record
}

func NewStatic(records ...occupation.Record) *Static {
	s := &Static{records: make(map[occupation.Code]occupation.Record, len(records))}
	for _, r := range records {
		s.records[r.Code] = r
	}
	return s
}

func (s *Static) Lookup(_ context.Context, code occupation.Code) (occupation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[code]
	if !ok {
		return occupation.Record{}, apperrors.Newf(apperrors.ErrNotFound, "occupation %s", code)
	}
	return r, nil
}

func (s *Static) ListAll(context.Context) ([]occupation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]occupation.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b occupation.Record) int { return strings.Compare(string(a.Code), string(b.Code)) })
	return out, nil
}

func (s *Static) ByHierarchy(ctx context.Context, level occupation.Level, value string) ([]occupation.Record, error) {
	if err := checkHierarchy(level, value); err != nil {
		return nil, err
	}
	all, _ := s.ListAll(ctx)
	return slices.DeleteFunc(all, func(r occupation.Record) bool { return !r.Code.HasPrefix(value) }), nil
}

// Put adds or replaces a record.
func (s *Static) Put(r occupation.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Code] = r
}

// Delete removes a record if present.
func (s *Static) Delete(code occupation.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, code)
}

// DecodeRecords reads a JSON array of records and validates each code.
func DecodeRecords(r io.Reader) ([]occupation.Record, error) {
	var records []occupation.Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	for i, rec := range records {
		code, err := occupation.ParseCode(string(rec.Code))
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if strings.TrimSpace(rec.Title) == "" {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "record %d (%s) has no title", i, code)
		}
		records[i].Code = code
	}
	return records, nil
}
