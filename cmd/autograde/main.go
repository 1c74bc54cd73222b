package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/autograde/internal/extract"
	"github.com/pavelanni/autograde/internal/grading"
	"github.com/pavelanni/autograde/internal/handler"
	appI18n "github.com/pavelanni/autograde/internal/i18n"
	"github.com/pavelanni/autograde/internal/llm"
	"github.com/pavelanni/autograde/internal/llm/prompts"
	"github.com/pavelanni/autograde/internal/model"
	"github.com/pavelanni/autograde/internal/semantic"
	"github.com/pavelanni/autograde/internal/store"
)

const probeTimeout = 15 * time.Second

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "autograde",
		Short: "Answer-sheet grading service with rule-based and semantic scoring",
	}

	serve := serveCmd()
	root.AddCommand(serve, gradeCmd(), similarityCmd(), keysCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `autograde --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "autograde.db", "SQLite database path")
	f.StringSliceP("keys", "k", nil, "Answer-key JSON files to import at startup (repeatable)")
	f.StringP("lang", "l", "en", "Default language for API messages (en, ru)")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (empty = same-origin only)")
	f.Int("max-upload-mb", 10, "Maximum upload size in megabytes")
	addGradingFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func addGradingFlags(f *pflag.FlagSet) {
	f.Bool("lenient-keys", false, "Accept unknown question types and empty keyword lists")
	f.String("extractor", "llm", "Text extractor for images (llm, tesseract, none)")
	f.String("tesseract-lang", "eng", "Tesseract language code")
	f.Int("max-image-side", 2048, "Downscale images whose longest side exceeds this many pixels (0 = never)")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2-vision", "Model used for extraction and feedback")
	f.String("embed-model", "all-minilm", "Embedding model for semantic scoring")
	f.Bool("structured", false, "Ask the vision model for a JSON answer mapping instead of text")
	f.String("prompt-variant", string(prompts.PromptStandard), "Feedback tone (strict, standard, lenient)")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("AUTOGRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("autograde")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/autograde")
	v.AddConfigPath("/etc/autograde")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	grader := grading.New(grading.WithLenientKeys(v.GetBool("lenient-keys")))
	if _, err := importKeyFiles(db, grader, v.GetStringSlice("keys")); err != nil {
		return fmt.Errorf("import keys: %w", err)
	}
	keyCount, err := db.KeyCount()
	if err != nil {
		return fmt.Errorf("count keys: %w", err)
	}

	llmClient, err := newLLMClient(v)
	if err != nil {
		return err
	}
	var feedback handler.FeedbackGenerator
	if err := pingLLM(cmd.Context(), llmClient); err != nil {
		slog.Warn("LLM endpoint unreachable, feedback disabled", "url", v.GetString("llm-url"), "error", err)
	} else {
		feedback = llmClient
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}
	scorer := newScorer(cmd.Context(), llmClient)

	extractor, err := newExtractor(v, llmClient)
	if err != nil {
		return err
	}

	cfg := model.ServiceConfig{
		LenientKeys:  v.GetBool("lenient-keys"),
		MaxUploadMB:  v.GetInt("max-upload-mb"),
		CORSOrigins:  v.GetStringSlice("cors-origins"),
		EmbedModel:   v.GetString("embed-model"),
		DefaultLang:  lang,
		ExtractorTag: v.GetString("extractor"),
	}
	h, err := handler.New(handler.Deps{
		Store:     db,
		Grader:    grader,
		Scorer:    scorer,
		Extractor: extractor,
		Feedback:  feedback,
	}, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", appI18n.DefaultLang(),
		"answer_keys", keyCount,
		"extractor", cfg.ExtractorTag,
		"semantic", scorer.Available(),
		"embed_model", cfg.EmbedModel,
		"lenient_keys", cfg.LenientKeys,
		"max_upload_mb", cfg.MaxUploadMB,
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func newLLMClient(v *viper.Viper) (*llm.Client, error) {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}
	c, err := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		llm.WithEmbedModel(v.GetString("embed-model")),
		llm.WithStructuredExtraction(v.GetBool("structured")),
		llm.WithFeedbackVariant(prompts.PromptVariant(variant)),
	)
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	return c, nil
}

func pingLLM(ctx context.Context, c *llm.Client) error {
	ctx, cancel := context.WithTimeout(contextOrBackground(ctx), probeTimeout)
	defer cancel()
	return c.Ping(ctx)
}

// newScorer probes the embedding model once. A failed probe yields a
// scorer that soft-fails every call for the life of the process.
func newScorer(ctx context.Context, c *llm.Client) *semantic.Scorer {
	ctx, cancel := context.WithTimeout(contextOrBackground(ctx), probeTimeout)
	defer cancel()
	if err := c.ProbeEmbeddings(ctx); err != nil {
		slog.Warn("embedding model unavailable, semantic scoring disabled", "error", err)
		return semantic.Unavailable(err)
	}
	return semantic.New(c)
}

// newExtractor picks the image extractor. Text and JSON documents are
// always handled locally.
func newExtractor(v *viper.Viper, c *llm.Client) (extract.Extractor, error) {
	var next extract.Extractor
	switch tag := strings.ToLower(v.GetString("extractor")); tag {
	case "llm":
		if c == nil {
			return nil, errors.New("llm extractor needs an LLM client")
		}
		next = extract.Downscaler{Next: c, MaxSide: v.GetInt("max-image-side")}
	case "tesseract":
		next = extract.Downscaler{Next: extract.NewTesseract(v.GetString("tesseract-lang")), MaxSide: v.GetInt("max-image-side")}
	case "none", "":
		next = extract.Disabled{}
	default:
		return nil, fmt.Errorf("unknown extractor %q (want llm, tesseract or none)", tag)
	}
	return extract.Passthrough{Next: next}, nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
