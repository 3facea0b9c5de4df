package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matiastonello92/pecora/internal/platform/database"
)

// Store handles audit event persistence.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// Entry is a stored audit event.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	OrgID     uuid.UUID       `json:"org_id"`
	ActorID   *uuid.UUID      `json:"actor_id"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  *uuid.UUID      `json:"entity_id"`
	Diff      json.RawMessage `json:"diff"`
	CreatedAt time.Time       `json:"created_at"`
}

// InsertBatch writes a batch of events to the database.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sql, args, err := buildBatchInsert(events)
	if err != nil {
		return fmt.Errorf("building batch insert: %w", err)
	}
	if _, err := db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting audit events: %w", err)
	}
	return nil
}

func buildBatchInsert(events []Event) (string, []any, error) {
	const cols = "(org_id, actor_id, action, entity, entity_id, diff)"
	var placeholders []string
	var args []any

	for i, e := range events {
		base := i * 6
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))

		var diff []byte
		if e.Diff != nil {
			var err error
			diff, err = json.Marshal(e.Diff)
			if err != nil {
				return "", nil, fmt.Errorf("marshaling diff: %w", err)
			}
		}

		args = append(args, e.OrgID, e.ActorID, e.Action, e.Entity, e.EntityID, diff)
	}

	sql := fmt.Sprintf("INSERT INTO audit_log %s VALUES %s", cols, strings.Join(placeholders, ", "))
	return sql, args, nil
}

// ListParams filters audit entries.
type ListParams struct {
	OrgID  uuid.UUID
	Action *string
	After  *time.Time
	Limit  int
}

func buildListQuery(p ListParams) (string, []any) {
	var conditions []string
	var args []any
	argN := 1

	conditions = append(conditions, fmt.Sprintf("org_id = $%d", argN))
	args = append(args, p.OrgID)
	argN++

	if p.Action != nil {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argN))
		args = append(args, *p.Action)
		argN++
	}
	if p.After != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argN))
		args = append(args, *p.After)
		argN++
	}

	sql := fmt.Sprintf(
		`SELECT id, org_id, actor_id, action, entity, entity_id, diff, created_at
		FROM audit_log
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`,
		strings.Join(conditions, " AND "), argN,
	)
	args = append(args, p.Limit)

	return sql, args
}

// List returns matching entries, newest first.
func (s *Store) List(ctx context.Context, q database.Querier, p ListParams) ([]Entry, error) {
	sql, args := buildListQuery(p)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OrgID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &e.Diff, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
