package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultGeminiURL is the public Generative Language API endpoint.
const DefaultGeminiURL = "https://generativelanguage.googleapis.com"

// GeminiClient talks to the Gemini generateContent REST API.
type GeminiClient struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewGeminiClient creates a client. An empty apiKey yields a client whose
// Configured reports false; runs refuse to start with it.
func NewGeminiClient(baseURL, model, apiKey string, timeout time.Duration) *GeminiClient {
	if baseURL == "" {
		baseURL = DefaultGeminiURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an API key is set.
func (c *GeminiClient) Configured() bool { return c.apiKey != "" }

// StartChat opens a conversation that carries its own history.
func (c *GeminiClient) StartChat(cfg ChatConfig) Chat {
	return &geminiChat{client: c, cfg: cfg}
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiTool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	Tools             []geminiTool           `json:"tools,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiChat struct {
	client *GeminiClient
	cfg    ChatConfig

	mu      sync.Mutex
	history []geminiContent
	calls   int
}

func (ch *geminiChat) Send(ctx context.Context, msg Message) (*Response, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	turn := geminiContent{Role: "user"}
	if msg.Text != "" {
		turn.Parts = append(turn.Parts, geminiPart{Text: msg.Text})
	}
	for _, fr := range msg.FunctionResponses {
		turn.Parts = append(turn.Parts, geminiPart{FunctionResponse: &geminiFunctionResponse{
			ID: fr.ID, Name: fr.Name, Response: fr.Response,
		}})
	}
	if len(turn.Parts) == 0 {
		return nil, fmt.Errorf("gemini: empty message")
	}

	req := geminiRequest{
		Contents:         append(append([]geminiContent(nil), ch.history...), turn),
		GenerationConfig: geminiGenerationConfig{Temperature: ch.cfg.Temperature},
	}
	if ch.cfg.SystemInstruction != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: ch.cfg.SystemInstruction}}}
	}
	if len(ch.cfg.Tools) > 0 {
		decls := make([]FunctionDeclaration, len(ch.cfg.Tools))
		for i, d := range ch.cfg.Tools {
			decls[i] = FunctionDeclaration{Name: d.Name, Description: d.Description, Parameters: geminiSchema(d.Parameters)}
		}
		req.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	out, err := ch.client.generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	content := out.Candidates[0].Content
	if content.Role == "" {
		content.Role = "model"
	}
	resp := &Response{Usage: Usage{
		PromptTokens:     out.UsageMetadata.PromptTokenCount,
		CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
	}}
	var text []string
	for i, p := range content.Parts {
		if p.Text != "" {
			text = append(text, p.Text)
		}
		if p.FunctionCall != nil {
			ch.calls++
			id := p.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", ch.calls)
				content.Parts[i].FunctionCall.ID = id
			}
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			resp.FunctionCalls = append(resp.FunctionCalls, FunctionCall{ID: id, Name: p.FunctionCall.Name, Args: args})
		}
	}
	resp.Text = strings.Join(text, "\n")

	ch.history = append(ch.history, turn, content)
	return resp, nil
}

func (c *GeminiClient) generate(ctx context.Context, body geminiRequest) (*geminiResponse, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("gemini: status %d: %s", resp.StatusCode, string(msg))
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	return &out, nil
}

// geminiSchema converts a JSON-schema object to the OpenAPI subset the
// API accepts: upper-case type names and only the supported keywords.
func geminiSchema(s map[string]any) map[string]any {
	if s == nil {
		return nil
	}
	out := make(map[string]any, len(s))
	for k, v := range s {
		switch k {
		case "type":
			if t, ok := v.(string); ok {
				out[k] = strings.ToUpper(t)
			}
		case "properties":
			props, ok := v.(map[string]any)
			if !ok {
				continue
			}
			conv := make(map[string]any, len(props))
			for name, p := range props {
				if pm, ok := p.(map[string]any); ok {
					conv[name] = geminiSchema(pm)
				}
			}
			out[k] = conv
		case "items":
			if im, ok := v.(map[string]any); ok {
				out[k] = geminiSchema(im)
			}
		case "description", "enum", "required", "minimum", "maximum", "format", "nullable":
			out[k] = v
		}
	}
	return out
}
