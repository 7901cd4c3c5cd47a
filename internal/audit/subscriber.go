package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/storeledger/storeledger/internal/events"
)

// SubscriberName identifies the activity log subscriber on the bus.
const SubscriberName = "activity-log"

// Replayer queues an entry whose insert failed for a later retry.
type Replayer interface {
	EnqueueReplay(ctx context.Context, entry Entry) error
}

// Subscriber writes one activity log entry per auditable event.
type Subscriber struct {
	repo     Repository
	replayer Replayer
	logger   *slog.Logger
}

// NewSubscriber builds the subscriber. replayer may be nil, in which case
// insert failures go back to the bus for its own retries.
func NewSubscriber(repo Repository, replayer Replayer, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{repo: repo, replayer: replayer, logger: logger.With(slog.String("component", "audit"))}
}

// Register subscribes to every auditable event type.
func (s *Subscriber) Register(bus *events.Bus) {
	for _, t := range events.AuditableTypes {
		bus.Subscribe(t, SubscriberName, s.Handle)
	}
}

// Handle records evt. Duplicate deliveries of the same event are ignored.
func (s *Subscriber) Handle(ctx context.Context, evt events.Event) error {
	entry, ok, err := EntryFromEvent(evt)
	if !ok {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.repo.Insert(ctx, entry); err != nil {
		if s.replayer == nil {
			return err
		}
		if qerr := s.replayer.EnqueueReplay(ctx, entry); qerr != nil {
			return errors.Join(err, qerr)
		}
		s.logger.WarnContext(ctx, "activity log insert failed, replay queued",
			slog.String("event_id", evt.ID.String()),
			slog.String("action", entry.Action),
			slog.Any("error", err))
	}
	return nil
}

// Replay inserts an entry taken from the replay queue.
func (s *Subscriber) Replay(ctx context.Context, entry Entry) error {
	inserted, err := s.repo.Insert(ctx, entry)
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.DebugContext(ctx, "activity log entry already present", slog.String("event_id", entry.EventID.String()))
	}
	return nil
}
