package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/storeledger/storeledger/internal/events"
)

// Entry is one row of the activity log. EventID makes inserts idempotent.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	EventID   uuid.UUID       `json:"event_id"`
	TenantID  int64           `json:"tenant_id"`
	Action    string          `json:"action"`
	Model     string          `json:"model"`
	ModelID   string          `json:"model_id"`
	OldData   json.RawMessage `json:"old_data,omitempty"`
	NewData   json.RawMessage `json:"new_data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EntryFromEvent projects an auditable event. ok is false for other payloads.
func EntryFromEvent(evt events.Event) (entry Entry, ok bool, err error) {
	auditable, ok := evt.Payload.(events.Auditable)
	if !ok {
		return Entry{}, false, nil
	}
	rec, err := auditable.AuditRecord()
	if err != nil {
		return Entry{}, true, err
	}
	return Entry{
		ID:        uuid.New(),
		EventID:   evt.ID,
		TenantID:  evt.TenantID,
		Action:    rec.Action,
		Model:     rec.Model,
		ModelID:   rec.ModelID,
		OldData:   rec.OldData,
		NewData:   rec.NewData,
		CreatedAt: evt.OccurredAt,
	}, true, nil
}

// TimelineFilters narrows the activity timeline of one tenant.
type TimelineFilters struct {
	TenantID int64
	From     time.Time
	To       time.Time
	Model    string
	Action   string
	Page     int
	PageSize int
}

// PagingInfo holds simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}
