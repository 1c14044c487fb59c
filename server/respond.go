package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/logging"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn().Err(err).Msg("failed to encode response")
	}
}

type errorBody struct {
	Error string         `json:"error"`
	Code  apperrors.Code `json:"code"`
}

// writeError answers with the status of err's code and its readable message.
// Errors without a code are logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	msg := apperrors.Message(err)
	if code == apperrors.CodeUnknown || code == apperrors.CodeInternal {
		logging.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "something went wrong"
	}
	writeJSON(w, apperrors.HTTPStatus(code), errorBody{Error: msg, Code: code})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.InvalidArg("request body is empty")
		}
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request body", err)
	}
	return nil
}
