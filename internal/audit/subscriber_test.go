package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storeledger/storeledger/internal/events"
)

type auditablePayload struct{}

func (auditablePayload) AuditRecord() (events.AuditRecord, error) {
	return events.AuditRecord{Action: "restocked", Model: "inventory", ModelID: "3", NewData: []byte(`{"quantity":8}`)}, nil
}

type recordingReplayer struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (r *recordingReplayer) EnqueueReplay(_ context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entry)
	return nil
}

func TestHandleIsIdempotentPerEvent(t *testing.T) {
	repo := &memoryRepo{}
	sub := NewSubscriber(repo, nil, nil)
	evt := events.New(events.TypeStockChanged, 4, auditablePayload{})

	require.NoError(t, sub.Handle(context.Background(), evt))
	require.NoError(t, sub.Handle(context.Background(), evt))

	entries := repo.snapshot()
	require.Len(t, entries, 1)
	require.Equal(t, evt.ID, entries[0].EventID)
	require.Equal(t, int64(4), entries[0].TenantID)
	require.Equal(t, "restocked", entries[0].Action)
	require.Equal(t, "inventory", entries[0].Model)
	require.JSONEq(t, `{"quantity":8}`, string(entries[0].NewData))
	require.Nil(t, entries[0].OldData)
}

func TestHandleIgnoresNonAuditablePayloads(t *testing.T) {
	repo := &memoryRepo{}
	sub := NewSubscriber(repo, nil, nil)

	require.NoError(t, sub.Handle(context.Background(), events.Dirty(1, events.ScopeReports)[0]))
	require.Empty(t, repo.snapshot())
}

func TestHandleFailureWithoutReplayerReturnsError(t *testing.T) {
	repo := &memoryRepo{failInsert: errors.New("db down")}
	sub := NewSubscriber(repo, nil, nil)

	err := sub.Handle(context.Background(), events.New(events.TypeStockChanged, 1, auditablePayload{}))
	require.EqualError(t, err, "db down")
}

func TestHandleFailureQueuesReplay(t *testing.T) {
	repo := &memoryRepo{failInsert: errors.New("db down")}
	replayer := &recordingReplayer{}
	sub := NewSubscriber(repo, replayer, nil)
	evt := events.New(events.TypeStockChanged, 1, auditablePayload{})

	require.NoError(t, sub.Handle(context.Background(), evt))
	require.Len(t, replayer.entries, 1)
	require.Equal(t, evt.ID, replayer.entries[0].EventID)

	repo.failInsert = nil
	require.NoError(t, sub.Replay(context.Background(), replayer.entries[0]))
	require.NoError(t, sub.Replay(context.Background(), replayer.entries[0]))
	require.Len(t, repo.snapshot(), 1)

	repo.failInsert = errors.New("db down")
	replayer.err = errors.New("queue down")
	err := sub.Handle(context.Background(), events.New(events.TypeStockChanged, 1, auditablePayload{}))
	require.ErrorContains(t, err, "db down")
	require.ErrorContains(t, err, "queue down")
}

func TestSubscriberReceivesBusEvents(t *testing.T) {
	repo := &memoryRepo{}
	bus := events.NewBus(nil, events.Config{}, nil)
	NewSubscriber(repo, nil, nil).Register(bus)

	bus.Publish(context.Background(),
		events.New(events.TypeSaleRecorded, 1, auditablePayload{}),
		events.New(events.TypeProductChanged, 1, auditablePayload{}),
		events.Dirty(1, events.ScopeTenantInventory)[0],
	)
	require.NoError(t, bus.Close(context.Background()))
	require.Len(t, repo.snapshot(), 2)
}
