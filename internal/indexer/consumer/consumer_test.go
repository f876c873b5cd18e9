package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/metrics"
)

type fakeIndex struct {
	indexed []occupation.Record
	removed []string
	err     error
}

func (f *fakeIndex) IndexRecord(_ context.Context, rec occupation.Record) error {
	if f.err != nil {
		return f.err
	}
	f.indexed = append(f.indexed, rec)
	return nil
}

func (f *fakeIndex) Remove(_ context.Context, code string) error {
	f.removed = append(f.removed, code)
	return nil
}

func newApplier(t *testing.T, records ...occupation.Record) (*Applier, *fakeIndex, *metrics.Metrics) {
	t.Helper()
	idx := &fakeIndex{}
	m := metrics.New(prometheus.NewRegistry())
	return NewApplier(catalog.NewStatic(records...), idx, idx, m), idx, m
}

func counter(t *testing.T, m *metrics.Metrics, op, status string) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.EventsConsumedTotal.WithLabelValues(op, status).Write(&out))
	return out.GetCounter().GetValue()
}

var tailor = occupation.Record{Code: "75310100", Title: "Tailor"}

func TestUpsertReadsCatalog(t *testing.T) {
	a, idx, m := newApplier(t, tailor)
	err := a.Handler()(context.Background(), []byte("75310100"), []byte(`{"op":"upsert","code":"75310100"}`))
	require.NoError(t, err)
	require.Len(t, idx.indexed, 1)
	assert.Equal(t, "Tailor", idx.indexed[0].Title)
	assert.Equal(t, 1.0, counter(t, m, "upsert", "applied"))
}

func TestUpsertOfMissingRecordRemoves(t *testing.T) {
	a, idx, m := newApplier(t)
	require.NoError(t, a.Apply(context.Background(), occupation.Event{Op: occupation.OpUpsert, Code: "75310100"}))
	assert.Empty(t, idx.indexed)
	assert.Equal(t, []string{"75310100"}, idx.removed)
	assert.Equal(t, 1.0, counter(t, m, "delete", "applied"))
}

func TestDelete(t *testing.T) {
	a, idx, _ := newApplier(t, tailor)
	require.NoError(t, a.Apply(context.Background(), occupation.Event{Op: occupation.OpDelete, Code: "75310100"}))
	assert.Equal(t, []string{"75310100"}, idx.removed)
}

func TestInvalidEventsAreDropped(t *testing.T) {
	a, idx, m := newApplier(t, tailor)
	h := a.Handler()
	ctx := context.Background()

	assert.NoError(t, h(ctx, nil, []byte(`not json`)))
	assert.NoError(t, h(ctx, nil, []byte(`{"op":"rename","code":"75310100"}`)))
	assert.NoError(t, h(ctx, nil, []byte(`{"op":"upsert","code":"7531"}`)))

	assert.Empty(t, idx.indexed)
	assert.Empty(t, idx.removed)
	assert.Equal(t, 2.0, counter(t, m, "unknown", "invalid"))
	assert.Equal(t, 1.0, counter(t, m, "upsert", "invalid"))
}

func TestIndexFailures(t *testing.T) {
	a, idx, m := newApplier(t, tailor)
	ev := occupation.Event{Op: occupation.OpUpsert, Code: "75310100"}

	idx.err = errors.New("embedding backend unreachable")
	assert.Error(t, a.Apply(context.Background(), ev), "transient failures are retried by the consumer")
	assert.Equal(t, 1.0, counter(t, m, "upsert", "failed"))

	idx.err = apperrors.New(apperrors.ErrInvalidInput, "occupation has no title")
	assert.NoError(t, a.Apply(context.Background(), ev))
	assert.Equal(t, 1.0, counter(t, m, "upsert", "invalid"))
}

func TestEventMessage(t *testing.T) {
	msg := Event(occupation.OpDelete, "75310100")
	assert.Equal(t, "75310100", msg.Key)
	assert.Equal(t, occupation.Event{Op: occupation.OpDelete, Code: "75310100"}, msg.Value)
}
