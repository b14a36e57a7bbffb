package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Common errors.
var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
)

// HTTPError represents an error that is surfaced to the user via HTTP.
type HTTPError struct {
	Code int    // HTTP response code to send to client; 0 means 500
	Msg  string // Response body to send to client
	Err  error  // Detailed error to log on the server
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("http error[%d]: %s, %s", e.Code, e.Msg, e.Err)
}

func (e HTTPError) Unwrap() error {
	return e.Err
}

// NewHTTPError creates a new HTTPError.
func NewHTTPError(code int, msg string, err error) HTTPError {
	return HTTPError{Code: code, Msg: msg, Err: err}
}

// WriteHTTPError writes an HTTPError to the response writer.
// Plain errors wrapping ErrNotFound or ErrBadRequest are mapped to 404 and 400.
func WriteHTTPError(w http.ResponseWriter, err error) {
	var herr HTTPError
	switch {
	case errors.As(err, &herr):
	case errors.Is(err, ErrNotFound):
		herr = HTTPErrorFromStatus(http.StatusNotFound, err)
	case errors.Is(err, ErrBadRequest):
		herr = HTTPErrorFromStatus(http.StatusBadRequest, err)
	default:
		http.Error(w, "internal server error", http.StatusInternalServerError)
		log.Error().Err(err).Int("code", http.StatusInternalServerError).Msg("http internal server error")
		return
	}

	if herr.Code == 0 {
		herr.Code = http.StatusInternalServerError
	}
	http.Error(w, herr.Msg, herr.Code)
	log.Error().Err(herr.Err).Int("code", herr.Code).Msgf("user msg: %s", herr.Msg)
}

// HTTPErrorFromStatus creates an HTTPError from an HTTP status code.
func HTTPErrorFromStatus(code int, err error) HTTPError {
	msg := http.StatusText(code)
	if msg == "" {
		msg = "Unknown error"
	}
	return HTTPError{Code: code, Msg: msg, Err: err}
}

// WriteJSON encodes v as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode JSON response")
	}
}
