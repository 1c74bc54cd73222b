package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/pavelanni/autograde/internal/extract"
	"github.com/pavelanni/autograde/internal/model"
	"github.com/pavelanni/autograde/internal/store"
)

type uploadResponse struct {
	ExtractedText model.Extraction `json:"extracted_text"`
}

type evaluateRequest struct {
	ExtractedText json.RawMessage  `json:"extracted_text"`
	AnswerKey     *model.AnswerKey `json:"answer_key"`
	AnswerKeyName string           `json:"answer_key_name" validate:"omitempty,max=128"`
}

func (h *Handler) maxUploadBytes() int64 {
	return int64(h.config.MaxUploadMB) << 20
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes())
	if err := r.ParseMultipartForm(h.maxUploadBytes()); err != nil {
		h.writeError(w, r, multipartError(err))
		return
	}
	doc, err := formDocument(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ex, err := h.extract(r, doc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ex.Kind == model.ExtractionFailed {
		h.writeError(w, r, extractionFailure(ex.Err))
		return
	}
	slog.Info("extracted document", "file", doc.Name, "mime", doc.MIME, "format", doc.Format)
	writeJSON(w, http.StatusOK, uploadResponse{ExtractedText: ex})
}

// handleEvaluate grades extracted content against an inline or stored key.
// It accepts a JSON body or a multipart form with an optional file.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes())

	var (
		ex  model.Extraction
		key *model.AnswerKey
		err error
	)
	if isMultipart(r) {
		ex, key, err = h.evaluateForm(r)
	} else {
		ex, key, err = h.evaluateJSON(r)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	report, err := h.grader.Grade(ex, key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("graded submission", "score", report.Score, "max_score", report.MaxScore,
		"questions", len(report.Details))
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) evaluateJSON(r *http.Request) (model.Extraction, *model.AnswerKey, error) {
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		return model.Extraction{}, nil, err
	}
	if err := h.validate.Struct(req); err != nil {
		return model.Extraction{}, nil, err
	}
	key, err := h.resolveKey(req.AnswerKey, req.AnswerKeyName)
	if err != nil {
		return model.Extraction{}, nil, err
	}
	raw := bytes.TrimSpace(req.ExtractedText)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return model.Extraction{}, nil, errContentRequired
	}
	var ex model.Extraction
	if err := json.Unmarshal(raw, &ex); err != nil {
		return model.Extraction{}, nil, &badRequestError{err: err}
	}
	if isEmptyExtraction(ex) {
		return model.Extraction{}, nil, errContentRequired
	}
	return ex, key, nil
}

func (h *Handler) evaluateForm(r *http.Request) (model.Extraction, *model.AnswerKey, error) {
	if err := r.ParseMultipartForm(h.maxUploadBytes()); err != nil {
		return model.Extraction{}, nil, multipartError(err)
	}

	var inline *model.AnswerKey
	if raw := strings.TrimSpace(r.FormValue("answer_key")); raw != "" {
		inline = model.NewAnswerKey()
		if err := json.Unmarshal([]byte(raw), inline); err != nil {
			return model.Extraction{}, nil, &badRequestError{err: fmt.Errorf("answer_key: %w", err)}
		}
	}
	name := r.FormValue("answer_key_name")
	if err := h.validate.Var(name, "omitempty,max=128"); err != nil {
		return model.Extraction{}, nil, err
	}
	key, err := h.resolveKey(inline, name)
	if err != nil {
		return model.Extraction{}, nil, err
	}

	if text := r.FormValue("extracted_text"); strings.TrimSpace(text) != "" {
		ex := formExtraction(text)
		if isEmptyExtraction(ex) {
			return model.Extraction{}, nil, errContentRequired
		}
		return ex, key, nil
	}
	doc, err := formDocument(r)
	if errors.Is(err, errFileRequired) {
		return model.Extraction{}, nil, errContentRequired
	}
	if err != nil {
		return model.Extraction{}, nil, err
	}
	ex, err := h.extract(r, doc)
	if err != nil {
		return model.Extraction{}, nil, err
	}
	return ex, key, nil
}

// resolveKey prefers a non-empty inline key over a stored one.
func (h *Handler) resolveKey(inline *model.AnswerKey, name string) (*model.AnswerKey, error) {
	if inline.Len() > 0 {
		return inline, nil
	}
	if name == "" {
		return nil, errKeyRequired
	}
	sk, err := h.lookupKey(name)
	if err != nil {
		return nil, err
	}
	return sk.Key, nil
}

func (h *Handler) lookupKey(name string) (model.StoredKey, error) {
	sk, err := h.store.GetKey(name)
	if errors.Is(err, store.ErrNotFound) {
		return sk, &notFoundError{name: name, err: err}
	}
	return sk, err
}

// extract runs the configured extractor. Provider errors other than
// configuration problems become extraction failures.
func (h *Handler) extract(r *http.Request, doc extract.Document) (model.Extraction, error) {
	ex, err := h.extractor.Extract(r.Context(), doc)
	switch {
	case err == nil:
		return ex, nil
	case errors.Is(err, extract.ErrNotConfigured), errors.Is(err, extract.ErrUnsupportedFormat):
		return model.Extraction{}, err
	default:
		slog.Error("extraction failed", "file", doc.Name, "error", err)
		return model.Extraction{}, extractionFailure(err.Error())
	}
}

// isEmptyExtraction reports blank text or an empty answer mapping.
func isEmptyExtraction(ex model.Extraction) bool {
	switch ex.Kind {
	case model.ExtractionText:
		return strings.TrimSpace(ex.Text) == ""
	case model.ExtractionAnswers:
		return len(ex.Answers) == 0
	}
	return false
}

// formExtraction reads an extracted_text form field. A JSON object or
// string is decoded, anything else is taken as text.
func formExtraction(text string) model.Extraction {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, `"`) {
		var ex model.Extraction
		if err := json.Unmarshal([]byte(trimmed), &ex); err == nil && !ex.IsZero() {
			return ex
		}
	}
	return model.TextExtraction(text)
}

func formDocument(r *http.Request) (extract.Document, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return extract.Document{}, errFileRequired
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return extract.Document{}, fmt.Errorf("read upload: %w", err)
	}
	return extract.NewDocument(header.Filename, data)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func multipartError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	if errors.Is(err, http.ErrNotMultipart) {
		return errFileRequired
	}
	return &badRequestError{err: err}
}
