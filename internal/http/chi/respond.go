package chi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/marcelsud/webhook-relay/internal/apperr"
	"github.com/marcelsud/webhook-relay/internal/validation"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readBody reads at most maxBodyBytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.InvalidInput("Request body is too large", err)
		}
		return nil, apperr.InvalidInput("Failed to read request body", err)
	}
	return body, nil
}

// decodeJSON reads and validates a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return apperr.InvalidInput("Request body is required", nil)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.InvalidInput("Request body must be a valid JSON object", err)
	}
	return validation.Check(v)
}

// requestHeaders flattens headers to their first value under lower-case names.
func requestHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[strings.ToLower(key)] = values[0]
		}
	}
	return headers
}
