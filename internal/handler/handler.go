package handler

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/autograde/internal/extract"
	"github.com/pavelanni/autograde/internal/grading"
	"github.com/pavelanni/autograde/internal/i18n"
	"github.com/pavelanni/autograde/internal/llm"
	"github.com/pavelanni/autograde/internal/model"
	"github.com/pavelanni/autograde/internal/semantic"
	"github.com/pavelanni/autograde/internal/store"
)

// KeyStore is the answer-key library used by the handlers.
type KeyStore interface {
	PutKey(name string, key *model.AnswerKey) error
	GetKey(name string) (model.StoredKey, error)
	ListKeys() ([]store.KeySummary, error)
	DeleteKey(name string) error
}

// FeedbackGenerator explains a semantic score in prose.
type FeedbackGenerator interface {
	GenerateFeedback(ctx context.Context, req llm.FeedbackRequest) (string, error)
}

// Deps are the collaborators shared by all handlers. Feedback may be nil.
type Deps struct {
	Store     KeyStore
	Grader    *grading.Grader
	Scorer    *semantic.Scorer
	Extractor extract.Extractor
	Feedback  FeedbackGenerator
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     KeyStore
	grader    *grading.Grader
	scorer    *semantic.Scorer
	extractor extract.Extractor
	feedback  FeedbackGenerator
	config    model.ServiceConfig
	validate  *validator.Validate
}

// New creates a new Handler.
func New(d Deps, cfg model.ServiceConfig) (*Handler, error) {
	if d.Store == nil {
		return nil, errMissingDep("store")
	}
	if d.Grader == nil {
		d.Grader = grading.New(grading.WithLenientKeys(cfg.LenientKeys))
	}
	if d.Scorer == nil {
		d.Scorer = semantic.Unavailable(nil)
	}
	if d.Extractor == nil {
		d.Extractor = extract.Passthrough{}
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 10
	}

	v := validator.New()
	// Report JSON field names in validation errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		store:     d.Store,
		grader:    d.Grader,
		scorer:    d.Scorer,
		extractor: d.Extractor,
		feedback:  d.Feedback,
		config:    cfg,
		validate:  v,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Post("/upload", h.handleUpload)
	r.Post("/evaluate", h.handleEvaluate)
	r.Post("/similarity", h.handleSimilarity)

	r.Route("/keys", func(r chi.Router) {
		r.Get("/", h.handleListKeys)
		r.Get("/{name}", h.handleGetKey)
		r.Put("/{name}", h.handlePutKey)
		r.Delete("/{name}", h.handleDeleteKey)
	})
}

// Router returns the full middleware stack with all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	if len(h.config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.config.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Accept-Language", "Content-Type"},
			ExposedHeaders: []string{"Content-Length"},
			MaxAge:         300,
		}))
	}
	r.Use(i18n.Middleware())
	h.Routes(r)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
