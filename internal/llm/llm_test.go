package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/autograde/internal/extract"
	"github.com/pavelanni/autograde/internal/model"
)

// fakeAPI serves the subset of the OpenAI API the client uses.
func fakeAPI(t *testing.T, chatReply string) (*httptest.Server, *[]openai.ChatCompletionRequest) {
	t.Helper()
	var chats []openai.ChatCompletionRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"test-model","object":"model"}]}`))
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		var data []item
		// Reverse order to check that the client sorts by index.
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Object: "embedding", Embedding: []float32{float32(len(req.Input[i])), 1}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "all-minilm"})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		chats = append(chats, req)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   req.Model,
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": chatReply}, "finish_reason": "stop"}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &chats
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	c, err := New(srv.URL+"/v1", "test-key", "test-model", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewValidates(t *testing.T) {
	if _, err := New("", "k", ""); err == nil {
		t.Error("empty model: want error")
	}
	if _, err := New("", "k", "m", WithFeedbackVariant("harsh")); err == nil {
		t.Error("bad variant: want error")
	}
}

func TestPingAndEmbed(t *testing.T) {
	srv, _ := fakeAPI(t, "")
	c := newTestClient(t, srv)
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := c.ProbeEmbeddings(ctx); err != nil {
		t.Fatalf("ProbeEmbeddings: %v", err)
	}
	vecs, err := c.Embed(ctx, []string{"a", "abc"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][0] != 3 {
		t.Errorf("Embed returned %v, want vectors in input order", vecs)
	}
}

func TestOrderEmbeddings(t *testing.T) {
	if _, err := orderEmbeddings([]openai.Embedding{{Index: 0}}, 2); err == nil {
		t.Error("short response: want error")
	}
	if _, err := orderEmbeddings([]openai.Embedding{{Index: 0, Embedding: []float32{1}}, {Index: 0, Embedding: []float32{2}}}, 2); err == nil {
		t.Error("duplicate index: want error")
	}
}

func TestExtractText(t *testing.T) {
	srv, chats := fakeAPI(t, "Q1: Paris\nQ2: 42")
	c := newTestClient(t, srv)

	ex, err := c.Extract(context.Background(), extract.Document{Name: "sheet.png", Data: []byte("img"), MIME: "image/png", Format: extract.FormatImage})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ex.Kind != model.ExtractionText || ex.Text != "Q1: Paris\nQ2: 42" {
		t.Errorf("Extract = %+v", ex)
	}
	if len(*chats) != 1 {
		t.Fatalf("expected 1 chat request, got %d", len(*chats))
	}
	user := (*chats)[0].Messages[1]
	if len(user.MultiContent) != 2 || !strings.HasPrefix(user.MultiContent[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image part not sent as data URL: %+v", user.MultiContent)
	}
	if (*chats)[0].ResponseFormat != nil {
		t.Error("text extraction should not request JSON")
	}
}

func TestExtractStructured(t *testing.T) {
	srv, chats := fakeAPI(t, "```json\n{\"Q01\": \"Paris\", \"Question 2\": \"42\", \"bonus\": \"x\", \"q3\": null}\n```")
	c := newTestClient(t, srv, WithStructuredExtraction(true))

	ex, err := c.Extract(context.Background(), extract.Document{Name: "sheet.jpg", Data: []byte("img"), MIME: "image/jpeg", Format: extract.FormatImage})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := model.StudentAnswers{"q1": "Paris", "q2": "42", "bonus": "x"}
	if ex.Kind != model.ExtractionAnswers || len(ex.Answers) != len(want) {
		t.Fatalf("Extract = %+v, want %v", ex, want)
	}
	for id, a := range want {
		if ex.Answers[id] != a {
			t.Errorf("answer %s = %q, want %q", id, ex.Answers[id], a)
		}
	}
	if (*chats)[0].ResponseFormat == nil {
		t.Error("structured extraction should request a JSON object")
	}
}

func TestExtractRejectsPDF(t *testing.T) {
	srv, _ := fakeAPI(t, "")
	c := newTestClient(t, srv)
	_, err := c.Extract(context.Background(), extract.Document{Format: extract.FormatPDF, MIME: "application/pdf"})
	if !errors.Is(err, extract.ErrUnsupportedFormat) {
		t.Errorf("error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestParseStructuredErrors(t *testing.T) {
	for _, raw := range []string{"not json", `"just text"`, `{"q1": 5}`} {
		if _, err := parseStructured(raw); err == nil {
			t.Errorf("parseStructured(%q): want error", raw)
		}
	}
}

func TestGenerateFeedback(t *testing.T) {
	srv, chats := fakeAPI(t, "  Good start; mention the runtime.  ")
	c := newTestClient(t, srv, WithFeedbackVariant("lenient"))

	got, err := c.GenerateFeedback(context.Background(), FeedbackRequest{
		Question:  "What is a goroutine?",
		Candidate: "a thread",
		Reference: "a lightweight thread managed by the Go runtime",
		MaxMarks:  10,
		Result:    model.SimilarityResult{Score: 7, Similarity: 0.7},
	})
	if err != nil {
		t.Fatalf("GenerateFeedback: %v", err)
	}
	if got != "Good start; mention the runtime." {
		t.Errorf("feedback = %q", got)
	}
	prompt := (*chats)[0].Messages[0].Content
	if !strings.Contains(prompt, "70.0%") || !strings.Contains(prompt, "supportive tutor") {
		t.Errorf("prompt does not reflect score or variant:\n%s", prompt)
	}
}
