package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcelsud/webhook-relay/webhook"
)

const eventColumns = `id, event_type, source, payload, headers, processed, created_at, processed_at, error_message, retry_count, retry_at`

func scanEvent(row scanner) (webhook.Event, error) {
	var (
		e           webhook.Event
		payloadJSON string
		headersJSON string
		processedAt sql.NullTime
		errMsg      sql.NullString
		retryAt     sql.NullTime
	)
	err := row.Scan(&e.ID, &e.EventType, &e.Source, &payloadJSON, &headersJSON,
		&e.Processed, &e.CreatedAt, &processedAt, &errMsg, &e.RetryCount, &retryAt)
	if err != nil {
		return webhook.Event{}, err
	}
	if err := decodeJSON(payloadJSON, &e.Payload); err != nil {
		return webhook.Event{}, fmt.Errorf("decoding payload of event %s: %w", e.ID, err)
	}
	if err := decodeJSON(headersJSON, &e.Headers); err != nil {
		return webhook.Event{}, fmt.Errorf("decoding headers of event %s: %w", e.ID, err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.ProcessedAt = timePtr(processedAt)
	e.ErrorMessage = stringPtr(errMsg)
	e.RetryAt = timePtr(retryAt)
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]webhook.Event, error) {
	defer rows.Close()
	events := []webhook.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertEvent stores a new unprocessed event with credential headers redacted.
func (s *Store) InsertEvent(ctx context.Context, event webhook.Event) (webhook.Event, error) {
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	event.Headers = s.safeHeaders(event.Headers)
	if event.Headers == nil {
		event.Headers = map[string]string{}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock()
	}
	event.CreatedAt = event.CreatedAt.UTC()

	payloadJSON, err := encodeJSON(event.Payload)
	if err != nil {
		return webhook.Event{}, fmt.Errorf("encoding payload: %w", err)
	}
	headersJSON, err := encodeJSON(event.Headers)
	if err != nil {
		return webhook.Event{}, fmt.Errorf("encoding headers: %w", err)
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO webhook_events (id, event_type, source, payload, headers, processed, created_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.EventType, event.Source, payloadJSON, headersJSON, false, event.CreatedAt, 0)
	if err != nil {
		return webhook.Event{}, fmt.Errorf("inserting event: %w", err)
	}

	event.Processed = false
	event.RetryCount = 0
	return event, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (webhook.Event, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return webhook.Event{}, webhook.ErrNotFound
	}
	if err != nil {
		return webhook.Event{}, fmt.Errorf("getting event: %w", err)
	}
	return e, nil
}

// ListEvents returns a filtered page, newest first.
func (s *Store) ListEvents(ctx context.Context, filter webhook.EventFilter) ([]webhook.Event, error) {
	filter = filter.Normalize()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Processed != nil {
		add("processed = $%d", *filter.Processed)
	}
	if filter.EventType != "" {
		add("event_type = $%d", filter.EventType)
	}
	if filter.Source != "" {
		add("source = $%d", filter.Source)
	}

	query := `SELECT ` + eventColumns + ` FROM webhook_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return scanEvents(rows)
}

// FetchUnprocessed returns due events oldest first; future retry_at values hold an event back.
func (s *Store) FetchUnprocessed(ctx context.Context, limit int) ([]webhook.Event, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM webhook_events
		WHERE processed = $1 AND (retry_at IS NULL OR retry_at <= $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $3`,
		false, s.clock(), limit)
	if err != nil {
		return nil, fmt.Errorf("fetching unprocessed events: %w", err)
	}
	return scanEvents(rows)
}

// CountEvents groups all events by derived status.
func (s *Store) CountEvents(ctx context.Context) (map[webhook.Status]int64, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT CASE
			WHEN processed = $1 AND error_message IS NOT NULL THEN 'failed'
			WHEN processed = $1 THEN 'processed'
			WHEN retry_count > 0 OR retry_at IS NOT NULL THEN 'retrying'
			ELSE 'pending'
		END AS status, COUNT(*)
		FROM webhook_events
		GROUP BY 1`,
		true)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	defer rows.Close()

	counts := make(map[webhook.Status]int64, len(webhook.Statuses()))
	for _, st := range webhook.Statuses() {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			name string
			n    int64
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scanning event counts: %w", err)
		}
		counts[webhook.NewStatus(name)] = n
	}
	return counts, rows.Err()
}

// MarkProcessed concludes an event; a non-empty message records a terminal failure.
func (s *Store) MarkProcessed(ctx context.Context, id string, errorMessage string) error {
	var msg sql.NullString
	if errorMessage != "" {
		msg = sql.NullString{String: webhook.TruncateError(errorMessage), Valid: true}
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE webhook_events
		SET processed = $1, processed_at = $2, error_message = $3, retry_at = NULL
		WHERE id = $4`,
		true, s.clock(), msg, id)
	if err != nil {
		return fmt.Errorf("marking event processed: %w", err)
	}
	return requireOneRow(res)
}

// ScheduleRetry bumps retry_count and holds the event back for retryAfter.
func (s *Store) ScheduleRetry(ctx context.Context, id string, retryAfter time.Duration) error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE webhook_events
		SET retry_count = retry_count + 1, retry_at = $1
		WHERE id = $2 AND processed = $3`,
		s.clock().Add(retryAfter), id, false)
	if err != nil {
		return fmt.Errorf("scheduling retry: %w", err)
	}
	return requireOneRow(res)
}

func (s *Store) InsertProcessingLog(ctx context.Context, entry webhook.ProcessingLog) error {
	var data sql.NullString
	if entry.Data != nil {
		raw, err := encodeJSON(entry.Data)
		if err != nil {
			return fmt.Errorf("encoding processing data: %w", err)
		}
		data = sql.NullString{String: raw, Valid: true}
	}
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = s.clock()
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO event_processing_logs (id, event_id, event_type, success, message, processing_data, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.EventID, entry.EventType, entry.Success, entry.Message, data, entry.ProcessedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting processing log: %w", err)
	}
	return nil
}

// PurgeProcessedOlderThan deletes processed events concluded before cutoff.
func (s *Store) PurgeProcessedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE processed = $1 AND processed_at < $2`,
		true, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging events: %w", err)
	}
	return res.RowsAffected()
}
