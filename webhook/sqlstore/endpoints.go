package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-relay/webhook"
)

const endpointColumns = `id, name, url, secret, events, is_active, created_at, last_triggered_at`

func scanEndpoint(row scanner) (webhook.Endpoint, error) {
	var (
		ep            webhook.Endpoint
		secret        sql.NullString
		eventsJSON    string
		lastTriggered sql.NullTime
	)
	if err := row.Scan(&ep.ID, &ep.Name, &ep.URL, &secret, &eventsJSON, &ep.IsActive, &ep.CreatedAt, &lastTriggered); err != nil {
		return webhook.Endpoint{}, err
	}
	if err := decodeJSON(eventsJSON, &ep.Events); err != nil {
		return webhook.Endpoint{}, fmt.Errorf("decoding events of endpoint %s: %w", ep.ID, err)
	}
	ep.Secret = stringPtr(secret)
	ep.CreatedAt = ep.CreatedAt.UTC()
	ep.LastTriggeredAt = timePtr(lastTriggered)
	return ep, nil
}

func (s *Store) queryEndpoints(ctx context.Context, query string, args ...any) ([]webhook.Endpoint, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := []webhook.Endpoint{}
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func (s *Store) InsertEndpoint(ctx context.Context, endpoint webhook.Endpoint) (webhook.Endpoint, error) {
	if endpoint.Events == nil {
		endpoint.Events = []string{}
	}
	eventsJSON, err := encodeJSON(endpoint.Events)
	if err != nil {
		return webhook.Endpoint{}, fmt.Errorf("encoding endpoint events: %w", err)
	}
	if endpoint.CreatedAt.IsZero() {
		endpoint.CreatedAt = s.clock()
	}
	endpoint.CreatedAt = endpoint.CreatedAt.UTC()

	var secret sql.NullString
	if endpoint.Secret != nil {
		secret = sql.NullString{String: *endpoint.Secret, Valid: true}
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO webhook_endpoints (id, name, url, secret, events, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		endpoint.ID, endpoint.Name, endpoint.URL, secret, eventsJSON, endpoint.IsActive, endpoint.CreatedAt)
	if err != nil {
		return webhook.Endpoint{}, fmt.Errorf("inserting endpoint: %w", err)
	}
	return endpoint, nil
}

func (s *Store) ListEndpoints(ctx context.Context) ([]webhook.Endpoint, error) {
	return s.queryEndpoints(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints ORDER BY created_at DESC, id DESC`)
}

// ListActiveEndpointsForEvent narrows active endpoints to exact event-set members.
// The events column is JSON text, so membership is checked after the scan.
func (s *Store) ListActiveEndpointsForEvent(ctx context.Context, eventType string) ([]webhook.Endpoint, error) {
	active, err := s.queryEndpoints(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints WHERE is_active = $1 ORDER BY created_at ASC, id ASC`,
		true)
	if err != nil {
		return nil, err
	}

	matched := active[:0]
	for _, ep := range active {
		if ep.Subscribed(eventType) {
			matched = append(matched, ep)
		}
	}
	return matched, nil
}

// TouchEndpoint records the last delivery attempt time.
func (s *Store) TouchEndpoint(ctx context.Context, id string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE webhook_endpoints SET last_triggered_at = $1 WHERE id = $2`,
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touching endpoint: %w", err)
	}
	return requireOneRow(res)
}
