package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrEmptyBody reports a request without a JSON payload.
var ErrEmptyBody = errors.New("httpx: request body is empty")

// ErrBodyTooLarge reports a payload above the configured limit.
var ErrBodyTooLarge = errors.New("httpx: request body too large")

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeJSON reads at most limit bytes from r and decodes a single JSON value into dst.
// Numbers are kept as json.Number so money values survive without float rounding.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return ErrEmptyBody
	}
	body := r.Body
	if limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return ErrEmptyBody
		case errors.As(err, &maxErr):
			return ErrBodyTooLarge
		default:
			return fmt.Errorf("httpx: malformed json: %w", err)
		}
	}
	if dec.More() {
		return errors.New("httpx: malformed json: trailing data")
	}
	return nil
}
