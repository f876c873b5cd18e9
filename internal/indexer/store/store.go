// Package store persists indexed occupations in an embedded Badger database
// so the in-memory indexes can be rebuilt at startup without re-embedding.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/sparse"
)

const (
	docPrefix   = "doc:"
	vecPrefix   = "vec:"
	manifestKey = "meta:manifest"
)

// Manifest records which embedding model produced the stored vectors.
type Manifest struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// Entry is one persisted occupation: its lexical document and its vectors
// keyed by language.
type Entry struct {
	Doc     sparse.Document
	Vectors map[string][]float32
}

// Store wraps a Badger database.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

func (l *badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

func (l *badgerLogger) Infof(msg string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

func (l *badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

// Open opens the database in dir, creating it if needed. With inMemory set
// nothing touches disk and dir is ignored.
func Open(dir string, inMemory bool) (*Store, error) {
	logger := slog.Default().With("component", "store")
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", dir, err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckModel compares the stored manifest with the active embedding model.
// On a mismatch every stored vector is dropped and the manifest rewritten;
// lexical documents are kept. It returns the number of vectors dropped.
func (s *Store) CheckModel(model string, dimension int) (int, error) {
	want := Manifest{Model: model, Dimension: dimension}
	var current *Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(manifestKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			current = &Manifest{}
			return json.Unmarshal(val, current)
		})
	})
	if err != nil {
		return 0, fmt.Errorf("reading manifest: %w", err)
	}
	if current != nil && *current == want {
		return 0, nil
	}

	dropped := 0
	if current != nil {
		keys, err := s.keys([]byte(vecPrefix))
		if err != nil {
			return 0, err
		}
		if err := s.deleteKeys(keys); err != nil {
			return 0, fmt.Errorf("dropping stale vectors: %w", err)
		}
		dropped = len(keys)
		s.logger.Warn("embedding model changed, dropped stored vectors",
			"old_model", current.Model,
			"old_dimension", current.Dimension,
			"model", model,
			"dimension", dimension,
			"dropped", dropped,
		)
	}
	raw, err := json.Marshal(want)
	if err != nil {
		return dropped, err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(manifestKey), raw)
	}); err != nil {
		return dropped, fmt.Errorf("writing manifest: %w", err)
	}
	return dropped, nil
}

// Put replaces everything stored for e.Doc.Code in one transaction.
func (s *Store) Put(e Entry) error {
	raw, err := json.Marshal(e.Doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", e.Doc.Code, err)
	}
	stale, err := s.keys(codeVectorPrefix(e.Doc.Code))
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		if err := txn.Set(docKey(e.Doc.Code), raw); err != nil {
			return err
		}
		for lang, vec := range e.Vectors {
			if err := txn.Set(vectorKey(e.Doc.Code, lang), encodeVector(vec)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes code and its vectors. Deleting an absent code succeeds.
func (s *Store) Delete(code string) error {
	keys, err := s.keys(codeVectorPrefix(code))
	if err != nil {
		return err
	}
	keys = append(keys, docKey(code))
	return s.deleteKeys(keys)
}

// Load returns every stored entry ordered by code.
func (s *Store) Load() ([]Entry, error) {
	var entries []Entry
	byCode := make(map[string]int)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(docPrefix)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			var doc sparse.Document
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				it.Close()
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			byCode[doc.Code] = len(entries)
			entries = append(entries, Entry{Doc: doc, Vectors: make(map[string][]float32)})
		}
		it.Close()

		opts.Prefix = []byte(vecPrefix)
		it = txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			code, lang, ok := splitVectorKey(it.Item().Key())
			if !ok {
				continue
			}
			i, found := byCode[code]
			if !found {
				s.logger.Warn("vector without document, skipping", "code", code, "language", lang)
				continue
			}
			if err := it.Item().Value(func(val []byte) error {
				vec, err := decodeVector(val)
				entries[i].Vectors[lang] = vec
				return err
			}); err != nil {
				return fmt.Errorf("decoding vector %s/%s: %w", code, lang, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Counts returns the number of stored documents and vectors.
func (s *Store) Counts() (docs int, vectors int, err error) {
	docKeys, err := s.keys([]byte(docPrefix))
	if err != nil {
		return 0, 0, err
	}
	vecKeys, err := s.keys([]byte(vecPrefix))
	if err != nil {
		return 0, 0, err
	}
	return len(docKeys), len(vecKeys), nil
}

// Reset deletes every document and vector but keeps the manifest.
func (s *Store) Reset() error {
	docKeys, err := s.keys([]byte(docPrefix))
	if err != nil {
		return err
	}
	vecKeys, err := s.keys([]byte(vecPrefix))
	if err != nil {
		return err
	}
	return s.deleteKeys(append(docKeys, vecKeys...))
}

func (s *Store) keys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing keys with prefix %q: %w", prefix, err)
	}
	return keys, nil
}

// deleteKeys batches deletes so large drops stay under the transaction size
// limit.
func (s *Store) deleteKeys(keys [][]byte) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func docKey(code string) []byte {
	return []byte(docPrefix + code)
}

func codeVectorPrefix(code string) []byte {
	return []byte(vecPrefix + code + ":")
}

func vectorKey(code, lang string) []byte {
	return []byte(vecPrefix + code + ":" + lang)
}

func splitVectorKey(key []byte) (code, lang string, ok bool) {
	rest, found := bytes.CutPrefix(key, []byte(vecPrefix))
	if !found {
		return "", "", false
	}
	c, l, found := bytes.Cut(rest, []byte(":"))
	if !found {
		return "", "", false
	}
	return string(c), string(l), true
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}
