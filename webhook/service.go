package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/webhook/payload"
)

var (
	// ErrInvalidEvent is returned when an event violates the stored field limits.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidEndpoint is returned when an endpoint registration is rejected.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

/* Service represents the business logic layer
 * Uses pointer semantics as it's an API, not data
 */

// UseCase defines the business operations for events and endpoints
type UseCase interface {
	Receive(ctx context.Context, in payload.Normalized, headers map[string]string) (Event, error)
	GetEvent(ctx context.Context, id string) (Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)
	CreateEndpoint(ctx context.Context, endpoint Endpoint) (Endpoint, error)
	ListEndpoints(ctx context.Context) ([]Endpoint, error)
}

type Service struct {
	Repo Repository
	Now  func() time.Time
}

// NewService creates a new webhook service with dependency injection
func NewService(repo Repository) *Service {
	return &Service{
		Repo: repo,
		Now:  time.Now,
	}
}

// Receive stores a normalized inbound event as unprocessed
func (s *Service) Receive(ctx context.Context, in payload.Normalized, headers map[string]string) (Event, error) {
	if in.EventType == "" || utf8.RuneCountInString(in.EventType) > MaxEventTypeLength {
		return Event{}, fmt.Errorf("%w: event_type must be 1-%d characters", ErrInvalidEvent, MaxEventTypeLength)
	}
	if in.Source == "" || utf8.RuneCountInString(in.Source) > MaxSourceLength {
		return Event{}, fmt.Errorf("%w: source must be 1-%d characters", ErrInvalidEvent, MaxSourceLength)
	}

	data := in.Data
	if data == nil {
		data = map[string]any{}
	}
	if headers == nil {
		headers = map[string]string{}
	}

	event := Event{
		ID:        uuid.New().String(),
		EventType: in.EventType,
		Source:    in.Source,
		Payload:   data,
		Headers:   headers,
		Processed: false,
		CreatedAt: s.Now().UTC(),
	}

	stored, err := s.Repo.InsertEvent(ctx, event)
	if err != nil {
		return Event{}, fmt.Errorf("storing event: %w", err)
	}
	return stored, nil
}

// GetEvent returns a single event by id
func (s *Service) GetEvent(ctx context.Context, id string) (Event, error) {
	event, err := s.Repo.GetEvent(ctx, id)
	if err != nil {
		return Event{}, fmt.Errorf("getting event %s: %w", id, err)
	}
	return event, nil
}

// ListEvents returns a filtered page of events, newest first
func (s *Service) ListEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	events, err := s.Repo.ListEvents(ctx, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return events, nil
}

// CreateEndpoint validates and registers an outgoing endpoint
func (s *Service) CreateEndpoint(ctx context.Context, endpoint Endpoint) (Endpoint, error) {
	if err := endpoint.Validate(); err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if endpoint.ID == "" {
		endpoint.ID = uuid.New().String()
	}
	endpoint.CreatedAt = s.Now().UTC()

	stored, err := s.Repo.InsertEndpoint(ctx, endpoint)
	if err != nil {
		return Endpoint{}, fmt.Errorf("storing endpoint: %w", err)
	}
	return stored, nil
}

// ListEndpoints returns every registered endpoint
func (s *Service) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	endpoints, err := s.Repo.ListEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	return endpoints, nil
}
