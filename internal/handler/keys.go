package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/autograde/internal/model"
	"github.com/pavelanni/autograde/internal/store"
)

const keyNameRule = "required,max=128,excludesall=/\\"

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListKeys()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []store.KeySummary{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *Handler) handleGetKey(w http.ResponseWriter, r *http.Request) {
	sk, err := h.lookupKey(chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sk)
}

// handlePutKey stores a key after checking that it compiles.
func (h *Handler) handlePutKey(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.validate.Var(name, keyNameRule); err != nil {
		h.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes())

	key := model.NewAnswerKey()
	if err := decodeJSON(r, key); err != nil {
		h.writeError(w, r, err)
		return
	}
	ck, err := h.grader.Compile(key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.store.PutKey(name, key); err != nil {
		h.writeError(w, r, err)
		return
	}
	sk, err := h.lookupKey(name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("stored answer key", "name", name, "questions", ck.Len(), "max_score", ck.MaxScore())
	writeJSON(w, http.StatusOK, sk)
}

func (h *Handler) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.store.DeleteKey(name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = &notFoundError{name: name, err: err}
		}
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
