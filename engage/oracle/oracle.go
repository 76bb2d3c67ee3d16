// Client for the external text-generation oracle.
//
// Template bodies are rendered as pongo2 templates against the selection context and the
// reconstructed thread, then sent to an OpenAI-compatible chat completions endpoint.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bluesky-social/banter/engage"
	"github.com/bluesky-social/banter/engage/templates"
	"github.com/bluesky-social/banter/util"

	"github.com/flosch/pongo2/v6"
	arc "github.com/hashicorp/golang-lru/arc/v2"
)

// Everything the oracle is given for one generation.
type Request struct {
	Group string
	// nil when no template was eligible; the generator falls back to its default prompt
	Template *templates.Variation
	Vars     map[string]any
	Thread   []engage.Message
}

type GenerationError struct {
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation failed (HTTP %d): %s", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation failed: %s", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

type HTTPGenerator struct {
	Client *http.Client

	// base URL, eg "https://api.openai.com/v1"
	URL           string
	APIKey        string
	Model         string
	SystemPrompt  string
	DefaultPrompt string
	MaxTokens     int
	Logger        *slog.Logger

	// parsed templates keyed by body
	compiled *arc.ARCCache[string, *pongo2.Template]
}

const templateCacheSize = 512

func NewHTTPGenerator(url, apiKey, model string) *HTTPGenerator {
	compiled, _ := arc.NewARC[string, *pongo2.Template](templateCacheSize)
	return &HTTPGenerator{
		Client:        util.RobustHTTPClientTimeout(90 * time.Second),
		URL:           strings.TrimSuffix(url, "/"),
		APIKey:        apiKey,
		Model:         model,
		SystemPrompt:  "You write short, friendly social media posts. Reply with the post text only.",
		DefaultPrompt: "Write a short reply to: {{ text }}",
		MaxTokens:     200,
		Logger:        slog.Default().With("component", "oracle"),
		compiled:      compiled,
	}
}

func (g *HTTPGenerator) template(body string) (*pongo2.Template, error) {
	if g.compiled != nil {
		if tpl, ok := g.compiled.Get(body); ok {
			return tpl, nil
		}
	}
	// prompts are plain text, never HTML
	tpl, err := pongo2.FromString("{% autoescape off %}" + body + "{% endautoescape %}")
	if err != nil {
		return nil, err
	}
	if g.compiled != nil {
		g.compiled.Add(body, tpl)
	}
	return tpl, nil
}

// Renders the prompt for a request.
func (g *HTTPGenerator) Render(req Request) (string, error) {
	body := g.DefaultPrompt
	var meta map[string]any
	if req.Template != nil {
		body = req.Template.Body
		meta = req.Template.Metadata
	}
	tpl, err := g.template(body)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	pctx := pongo2.Context{}
	for k, v := range req.Vars {
		pctx[k] = v
	}
	thread := make([]map[string]any, 0, len(req.Thread))
	for _, m := range req.Thread {
		thread = append(thread, map[string]any{
			"author": m.AuthorHandle,
			"text":   m.Text,
		})
	}
	pctx["thread"] = thread
	pctx["group"] = req.Group
	pctx["meta"] = meta
	out, err := tpl.Execute(pctx)
	if err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return strings.TrimSpace(out), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Returns the generated text, trimmed. Every failure is a *GenerationError; there is no retry
// beyond the HTTP client's own.
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (string, error) {
	prompt, err := g.Render(req)
	if err != nil {
		return "", &GenerationError{Err: err}
	}

	creq := chatRequest{
		Model:     g.Model,
		MaxTokens: g.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: g.SystemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	if req.Template != nil {
		if t, ok := req.Template.Metadata["temperature"].(float64); ok {
			creq.Temperature = &t
		}
	}
	b, err := json.Marshal(creq)
	if err != nil {
		return "", &GenerationError{Err: err}
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	hreq.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	client := g.Client
	if client == nil {
		client = util.RobustHTTPClient()
	}
	resp, err := client.Do(hreq)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &GenerationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(msg)))}
	}

	var cresp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cresp); err != nil {
		return "", &GenerationError{Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(cresp.Choices) == 0 {
		return "", &GenerationError{Err: fmt.Errorf("no choices in response")}
	}
	text := strings.TrimSpace(cresp.Choices[0].Message.Content)
	if g.Logger != nil {
		g.Logger.Debug("generated text", "group", req.Group, "length", len(text))
	}
	return text, nil
}
