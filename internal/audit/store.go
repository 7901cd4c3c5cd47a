package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storeledger/storeledger/internal/shared"
)

// WindowParams are the query arguments of a timeline read.
type WindowParams struct {
	TenantID int64
	From     pgtype.Timestamptz
	To       pgtype.Timestamptz
	Model    pgtype.Text
	Action   pgtype.Text
	Offset   int32
	Limit    int32
}

// Repository persists and reads activity log entries.
type Repository interface {
	// Insert reports false when an entry for the same event already exists.
	Insert(ctx context.Context, entry Entry) (bool, error)
	TimelineWindow(ctx context.Context, arg WindowParams) ([]Entry, error)
	TimelineAll(ctx context.Context, arg WindowParams) ([]Entry, error)
}

// Store is the PostgreSQL Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert writes the entry once per event id.
func (s *Store) Insert(ctx context.Context, entry Entry) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO activity_logs (id, event_id, tenant_id, action, model, model_id, old_data, new_data, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (event_id) DO NOTHING`,
		entry.ID, entry.EventID, entry.TenantID, entry.Action, entry.Model, entry.ModelID,
		nullableJSON(entry.OldData), nullableJSON(entry.NewData), entry.CreatedAt)
	if err != nil {
		return false, shared.Persistence("audit: insert", err)
	}
	return tag.RowsAffected() == 1, nil
}

const timelineSQL = `SELECT id, event_id, tenant_id, action, model, model_id, old_data, new_data, created_at
FROM activity_logs
WHERE tenant_id = @tenant
  AND (@from::timestamptz IS NULL OR created_at >= @from)
  AND (@to::timestamptz IS NULL OR created_at < @to)
  AND (@model::text IS NULL OR model = @model)
  AND (@action::text IS NULL OR action = @action)
ORDER BY created_at DESC, id DESC`

// exportLimit bounds unpaged reads.
const exportLimit = 10000

// TimelineWindow reads one page, newest first.
func (s *Store) TimelineWindow(ctx context.Context, arg WindowParams) ([]Entry, error) {
	args := namedArgs(arg)
	args["offset"] = arg.Offset
	args["limit"] = arg.Limit
	return s.query(ctx, timelineSQL+` OFFSET @offset LIMIT @limit`, args)
}

// TimelineAll reads every matching entry up to exportLimit.
func (s *Store) TimelineAll(ctx context.Context, arg WindowParams) ([]Entry, error) {
	args := namedArgs(arg)
	args["limit"] = exportLimit
	return s.query(ctx, timelineSQL+` LIMIT @limit`, args)
}

func (s *Store) query(ctx context.Context, sql string, args pgx.NamedArgs) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, sql, args)
	if err != nil {
		return nil, shared.Persistence("audit: timeline", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.ID, &e.EventID, &e.TenantID, &e.Action, &e.Model, &e.ModelID, &e.OldData, &e.NewData, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, shared.Persistence("audit: timeline", err)
	}
	return entries, nil
}

func namedArgs(arg WindowParams) pgx.NamedArgs {
	return pgx.NamedArgs{
		"tenant": arg.TenantID,
		"from":   arg.From,
		"to":     arg.To,
		"model":  arg.Model,
		"action": arg.Action,
	}
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
