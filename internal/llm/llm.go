package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/autograde/internal/extract"
	"github.com/pavelanni/autograde/internal/llm/prompts"
	"github.com/pavelanni/autograde/internal/model"
)

var questionIDRegex = regexp.MustCompile(`(?i)^\s*(?:q|question)[\s_]*0*(\d+)(?:_text)?\s*$`)

// FeedbackRequest is the input for explaining a semantic score.
type FeedbackRequest struct {
	Question  string
	Candidate string
	Reference string
	MaxMarks  float64
	Result    model.SimilarityResult
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api        *openai.Client
	model      string
	embedModel string
	variant    prompts.PromptVariant
	structured bool
}

// Option configures a Client.
type Option func(*Client)

// WithEmbedModel sets the embedding model name.
func WithEmbedModel(name string) Option { return func(c *Client) { c.embedModel = name } }

// WithStructuredExtraction asks the vision model for a JSON answer mapping.
func WithStructuredExtraction(b bool) Option { return func(c *Client) { c.structured = b } }

// WithFeedbackVariant selects the feedback prompt tone.
func WithFeedbackVariant(v prompts.PromptVariant) Option { return func(c *Client) { c.variant = v } }

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string, opts ...Option) (*Client, error) {
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if err := prompts.Load(prompts.Templates); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	c := &Client{
		api:        openai.NewClientWithConfig(config),
		model:      modelName,
		embedModel: "all-minilm",
		variant:    prompts.PromptStandard,
	}
	for _, o := range opts {
		o(c)
	}
	if !prompts.IsValidVariant(string(c.variant)) {
		return nil, fmt.Errorf("invalid feedback variant %q", c.variant)
	}
	return c, nil
}

// Ping checks that the endpoint answers a model listing.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// ProbeEmbeddings checks that the embedding model is loaded and answers.
func (c *Client) ProbeEmbeddings(ctx context.Context) error {
	_, err := c.Embed(ctx, []string{"ping"})
	return err
}

// Embed returns one embedding per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings API call: %w", err)
	}
	return orderEmbeddings(resp.Data, len(texts))
}

func orderEmbeddings(data []openai.Embedding, n int) ([][]float32, error) {
	if len(data) != n {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(data), n)
	}
	out := make([][]float32, n)
	for _, d := range data {
		if d.Index < 0 || d.Index >= n || out[d.Index] != nil {
			return nil, fmt.Errorf("embeddings API returned unexpected index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Extract transcribes an answer-sheet image with the vision model.
func (c *Client) Extract(ctx context.Context, doc extract.Document) (model.Extraction, error) {
	if doc.Format != extract.FormatImage {
		return model.Extraction{}, fmt.Errorf("%w: vision extraction reads images, got %s", extract.ErrUnsupportedFormat, doc.MIME)
	}
	systemPrompt, err := prompts.BuildExtractPrompt(c.structured)
	if err != nil {
		return model.Extraction{}, fmt.Errorf("build extract prompt: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: "Transcribe the answers on this exam sheet."},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + doc.MIME + ";base64," + base64.StdEncoding.EncodeToString(doc.Data),
					Detail: openai.ImageURLDetailHigh,
				}},
			}},
		},
		Temperature: 0.1,
	}
	if c.structured {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return model.Extraction{}, fmt.Errorf("vision API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Extraction{}, fmt.Errorf("vision model returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("vision response", "document", doc.Name, "raw", raw)
	if !c.structured {
		return model.TextExtraction(raw), nil
	}
	return parseStructured(raw)
}

// parseStructured decodes a JSON answer mapping and normalizes ids like
// "Q01" or "Question 1" to "q1". Other ids are kept verbatim.
func parseStructured(raw string) (model.Extraction, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var ex model.Extraction
	if err := json.Unmarshal([]byte(raw), &ex); err != nil {
		return model.Extraction{}, fmt.Errorf("parse vision response: %w (raw: %s)", err, raw)
	}
	if ex.Kind != model.ExtractionAnswers {
		return model.Extraction{}, fmt.Errorf("vision response is not an answer mapping (raw: %s)", raw)
	}
	answers := make(model.StudentAnswers, len(ex.Answers))
	for id, a := range ex.Answers {
		if m := questionIDRegex.FindStringSubmatch(id); m != nil {
			id = "q" + m[1]
		}
		answers[id] = a
	}
	return model.AnswersExtraction(answers), nil
}

// GenerateFeedback explains a semantic score in prose.
func (c *Client) GenerateFeedback(ctx context.Context, req FeedbackRequest) (string, error) {
	systemPrompt, err := prompts.BuildFeedbackPrompt(c.variant, prompts.FeedbackData{
		QuestionText:      req.Question,
		ReferenceAnswer:   req.Reference,
		Answer:            req.Candidate,
		Score:             req.Result.Score,
		MaxMarks:          req.MaxMarks,
		SimilarityPercent: req.Result.Similarity * 100,
	})
	if err != nil {
		return "", fmt.Errorf("build feedback prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("feedback API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices for feedback")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
