package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/autograde/internal/extract"
	"github.com/pavelanni/autograde/internal/grading"
	"github.com/pavelanni/autograde/internal/i18n"
	"github.com/pavelanni/autograde/internal/store"
)

var (
	errKeyRequired     = errors.New("answer_key required")
	errContentRequired = errors.New("extracted_text or file required")
	errFileRequired    = errors.New("file required")
)

func errMissingDep(name string) error {
	return fmt.Errorf("handler: missing dependency %s", name)
}

// badRequestError marks a request body that could not be decoded.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return "decode request: " + e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func extractionFailure(msg string) error {
	return &grading.ExtractionError{Cause: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msgID string, data map[string]any) {
	var msg string
	if data == nil {
		msg = i18n.T(r.Context(), msgID)
	} else {
		msg = i18n.Td(r.Context(), msgID, data)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps err to a status code and a localized message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		keyErr   *grading.KeyError
		exErr    *grading.ExtractionError
		reqErr   *badRequestError
		valErrs  validator.ValidationErrors
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.Is(err, errKeyRequired):
		writeMessage(w, r, http.StatusBadRequest, "ErrAnswerKeyRequired", nil)
	case errors.Is(err, errContentRequired):
		writeMessage(w, r, http.StatusBadRequest, "ErrContentRequired", nil)
	case errors.Is(err, errFileRequired):
		writeMessage(w, r, http.StatusBadRequest, "ErrFileRequired", nil)
	case errors.As(err, &tooLarge):
		writeMessage(w, r, http.StatusRequestEntityTooLarge, "ErrFileTooLarge",
			map[string]any{"Limit": h.config.MaxUploadMB})
	case errors.As(err, &valErrs):
		field := ""
		if len(valErrs) > 0 {
			field = valErrs[0].Field()
		}
		writeMessage(w, r, http.StatusBadRequest, "ErrInvalidField", map[string]any{"Field": field})
	case errors.As(err, &reqErr):
		writeMessage(w, r, http.StatusBadRequest, "ErrMalformedRequest", nil)
	case errors.As(err, &keyErr):
		writeMessage(w, r, http.StatusUnprocessableEntity, "ErrInvalidAnswerKey",
			map[string]any{"Detail": keyErr.Detail()})
	case errors.Is(err, grading.ErrInvalidInput):
		writeMessage(w, r, http.StatusUnprocessableEntity, "ErrInvalidInput",
			map[string]any{"Detail": strings.TrimPrefix(err.Error(), grading.ErrInvalidInput.Error()+": ")})
	case errors.As(err, &exErr):
		writeMessage(w, r, http.StatusBadGateway, "ErrExtractionFailed", map[string]any{"Detail": exErr.Cause})
	case errors.Is(err, extract.ErrUnsupportedFormat):
		mime := strings.TrimPrefix(err.Error(), extract.ErrUnsupportedFormat.Error()+": ")
		writeMessage(w, r, http.StatusUnsupportedMediaType, "ErrUnsupportedFormat", map[string]any{"MIME": mime})
	case errors.Is(err, extract.ErrNotConfigured):
		writeMessage(w, r, http.StatusServiceUnavailable, "ErrExtractorNotConfigured", nil)
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, r, http.StatusNotFound, "ErrKeyNotFound", map[string]any{"Name": notFoundName(err)})
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "ErrInternal", nil)
	}
}

// notFoundError carries the name of a missing key.
type notFoundError struct {
	name string
	err  error
}

func (e *notFoundError) Error() string { return e.err.Error() }
func (e *notFoundError) Unwrap() error { return e.err }

func notFoundName(err error) string {
	var nf *notFoundError
	if errors.As(err, &nf) {
		return nf.name
	}
	return ""
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return &badRequestError{err: err}
	}
	return nil
}
