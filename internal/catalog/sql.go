package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/sqldb"
)

const schema = `
CREATE TABLE IF NOT EXISTS occupations (
	code        TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	keywords    TEXT NOT NULL DEFAULT '[]',
	synonyms    TEXT NOT NULL DEFAULT '{}'
)`

const selectColumns = `SELECT code, title, description, keywords, synonyms FROM occupations`

// SQL stores records in one table; keywords and synonyms are JSON text so
// the schema is identical on PostgreSQL and SQLite.
type SQL struct {
	client *sqldb.Client
	logger *slog.Logger
}

func NewSQL(client *sqldb.Client) *SQL {
	return &SQL{
		client: client,
		logger: slog.Default().With("component", "catalog"),
	}
}

// Migrate creates the schema if it does not exist.
func (c *SQL) Migrate(ctx context.Context) error {
	if _, err := c.client.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating occupations table: %w", err)
	}
	return nil
}

func (c *SQL) Lookup(ctx context.Context, code occupation.Code) (occupation.Record, error) {
	row := c.client.DB.QueryRowContext(ctx, c.client.Rebind(selectColumns+` WHERE code = ?`), string(code))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return occupation.Record{}, apperrors.Newf(apperrors.ErrNotFound, "occupation %s", code)
	}
	if err != nil {
		return occupation.Record{}, fmt.Errorf("looking up %s: %w", code, err)
	}
	return rec, nil
}

func (c *SQL) ListAll(ctx context.Context) ([]occupation.Record, error) {
	return c.query(ctx, selectColumns+` ORDER BY code`)
}

// ByHierarchy lists the records under value at level, e.g. every code in
// minor group "7532".
func (c *SQL) ByHierarchy(ctx context.Context, level occupation.Level, value string) ([]occupation.Record, error) {
	if err := checkHierarchy(level, value); err != nil {
		return nil, err
	}
	return c.query(ctx, selectColumns+` WHERE code LIKE ? ORDER BY code`, value+"%")
}

// Upsert inserts rec or replaces the stored record with the same code.
func (c *SQL) Upsert(ctx context.Context, rec occupation.Record) error {
	return c.UpsertAll(ctx, []occupation.Record{rec})
}

// UpsertAll writes records in a single transaction.
func (c *SQL) UpsertAll(ctx context.Context, records []occupation.Record) error {
	stmt := c.client.Rebind(`
		INSERT INTO occupations (code, title, description, keywords, synonyms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			keywords = excluded.keywords,
			synonyms = excluded.synonyms`)
	err := c.client.InTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range records {
			code, err := occupation.ParseCode(string(rec.Code))
			if err != nil {
				return err
			}
			keywords, err := json.Marshal(nonNilSlice(rec.Keywords))
			if err != nil {
				return err
			}
			synonyms, err := json.Marshal(nonNilMap(rec.Synonyms))
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, stmt, string(code), rec.Title, rec.Description, string(keywords), string(synonyms)); err != nil {
				return fmt.Errorf("upserting %s: %w", rec.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Debug("records upserted", "count", len(records))
	return nil
}

// Delete removes code. Deleting an absent code succeeds.
func (c *SQL) Delete(ctx context.Context, code occupation.Code) error {
	if _, err := c.client.DB.ExecContext(ctx, c.client.Rebind(`DELETE FROM occupations WHERE code = ?`), string(code)); err != nil {
		return fmt.Errorf("deleting %s: %w", code, err)
	}
	return nil
}

func (c *SQL) query(ctx context.Context, query string, args ...any) ([]occupation.Record, error) {
	rows, err := c.client.DB.QueryContext(ctx, c.client.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying occupations: %w", err)
	}
	defer rows.Close()

	var out []occupation.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating occupations: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (occupation.Record, error) {
	var (
		rec                occupation.Record
		code               string
		keywords, synonyms string
	)
	if err := s.Scan(&code, &rec.Title, &rec.Description, &keywords, &synonyms); err != nil {
		return occupation.Record{}, err
	}
	rec.Code = occupation.Code(code)
	if err := json.Unmarshal([]byte(keywords), &rec.Keywords); err != nil {
		return occupation.Record{}, fmt.Errorf("decoding keywords of %s: %w", code, err)
	}
	if err := json.Unmarshal([]byte(synonyms), &rec.Synonyms); err != nil {
		return occupation.Record{}, fmt.Errorf("decoding synonyms of %s: %w", code, err)
	}
	return rec, nil
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}
	return m
}
