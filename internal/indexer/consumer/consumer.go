// Package consumer keeps the index in step with the catalog by applying
// occupation change events read from Kafka.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/metrics"
)

// RecordIndexer embeds and indexes one catalog record.
type RecordIndexer interface {
	IndexRecord(ctx context.Context, rec occupation.Record) error
}

// Remover drops one code from the index.
type Remover interface {
	Remove(ctx context.Context, code string) error
}

// Applier turns change events into index writes. Events carry only the code;
// the record itself is always read from the catalog, so a replayed or
// reordered upsert indexes the current record, never a stale copy.
type Applier struct {
	catalog catalog.Catalog
	indexer RecordIndexer
	remover Remover
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewApplier(cat catalog.Catalog, idx RecordIndexer, rm Remover, m *metrics.Metrics) *Applier {
	return &Applier{
		catalog: cat,
		indexer: idx,
		remover: rm,
		metrics: m,
		logger:  slog.Default().With("component", "index-consumer"),
	}
}

// Apply applies one event. Errors are returned only when a retry could help.
func (a *Applier) Apply(ctx context.Context, ev occupation.Event) error {
	if err := ev.Validate(); err != nil {
		a.logger.Warn("invalid event dropped", "op", ev.Op, "code", ev.Code, "error", err)
		a.count(ev.Op, "invalid")
		return nil
	}

	op := ev.Op
	var err error
	switch ev.Op {
	case occupation.OpUpsert:
		var rec occupation.Record
		rec, err = a.catalog.Lookup(ctx, ev.Code)
		if errors.Is(err, apperrors.ErrNotFound) {
			// Deleted again before we got to it.
			op = occupation.OpDelete
			err = a.remover.Remove(ctx, string(ev.Code))
			break
		}
		if err != nil {
			err = fmt.Errorf("looking up %s: %w", ev.Code, err)
			break
		}
		err = a.indexer.IndexRecord(ctx, rec)
	case occupation.OpDelete:
		err = a.remover.Remove(ctx, string(ev.Code))
	}

	switch {
	case err == nil:
		a.logger.Info("event applied", "op", op, "code", ev.Code)
		a.count(op, "applied")
		return nil
	case errors.Is(err, apperrors.ErrInvalidInput):
		a.logger.Warn("event rejected by index", "op", op, "code", ev.Code, "error", err)
		a.count(op, "invalid")
		return nil
	default:
		a.count(op, "failed")
		return err
	}
}

// Handler adapts the applier to a Kafka consumer. Undecodable messages are
// logged and dropped.
func (a *Applier) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[occupation.Event](value)
		if err != nil {
			a.logger.Error("undecodable event dropped", "key", string(key), "error", err)
			a.count("unknown", "invalid")
			return nil
		}
		return a.Apply(ctx, ev)
	}
}

func (a *Applier) count(op occupation.EventOp, status string) {
	if a.metrics == nil {
		return
	}
	if op != occupation.OpUpsert && op != occupation.OpDelete {
		op = "unknown"
	}
	a.metrics.EventsConsumedTotal.WithLabelValues(string(op), status).Inc()
}

// Event builds the Kafka message announcing a change to code.
func Event(op occupation.EventOp, code occupation.Code) kafka.Event {
	return kafka.Event{Key: string(code), Value: occupation.Event{Op: op, Code: code}}
}
