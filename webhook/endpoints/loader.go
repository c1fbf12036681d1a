package endpoints

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/webhook"
	"gopkg.in/yaml.v3"
)

/* Loader reads outgoing endpoint registrations from endpoints.yaml
 * Seeded endpoints are inserted once, keyed by name
 */

// Config represents the structure of endpoints.yaml
type Config struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig represents a single endpoint in the YAML file
type EndpointConfig struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"` // Optional: deliveries are unsigned when empty
	Events []string `yaml:"events"`
	Active *bool    `yaml:"active"` // Default: true
}

// Load reads, parses and validates an endpoints file
func Load(filePath string) ([]webhook.Endpoint, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading endpoints file: %w", err)
	}
	return Parse(data)
}

// Parse validates raw YAML and converts it into endpoints
func Parse(data []byte) ([]webhook.Endpoint, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing endpoints YAML: %w", err)
	}

	seen := make(map[string]bool, len(config.Endpoints))
	out := make([]webhook.Endpoint, 0, len(config.Endpoints))
	for _, ec := range config.Endpoints {
		active := true
		if ec.Active != nil {
			active = *ec.Active
		}

		ep := webhook.Endpoint{
			Name:     ec.Name,
			URL:      ec.URL,
			Events:   ec.Events,
			IsActive: active,
		}
		if ec.Secret != "" {
			secret := ec.Secret
			ep.Secret = &secret
		}

		if err := ep.Validate(); err != nil {
			return nil, fmt.Errorf("validating endpoint: %w", err)
		}
		if seen[ep.Name] {
			return nil, fmt.Errorf("validating endpoint: duplicate name %s", ep.Name)
		}
		seen[ep.Name] = true

		out = append(out, ep)
	}

	return out, nil
}

// Seed inserts the endpoints whose name is not registered yet.
// Returns how many were added.
func Seed(ctx context.Context, store webhook.EndpointStore, endpoints []webhook.Endpoint) (int, error) {
	existing, err := store.ListEndpoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing endpoints: %w", err)
	}
	names := make(map[string]bool, len(existing))
	for _, ep := range existing {
		names[ep.Name] = true
	}

	added := 0
	for _, ep := range endpoints {
		if names[ep.Name] {
			continue
		}
		ep.ID = uuid.New().String()
		if _, err := store.InsertEndpoint(ctx, ep); err != nil {
			return added, fmt.Errorf("seeding endpoint %s: %w", ep.Name, err)
		}
		names[ep.Name] = true
		added++
	}
	return added, nil
}
