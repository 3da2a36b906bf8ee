package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OllamaSummarizer struct {
	client        *http.Client
	model         string
	endpoint      string
	promptBuilder *PromptBuilder
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func NewOllamaSummarizer(model, baseURL string) *OllamaSummarizer {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = "http://127.0.0.1:11434"
	}
	url = strings.TrimRight(url, "/")
	if !strings.HasSuffix(url, "/api/generate") {
		url += "/api/generate"
	}

	return &OllamaSummarizer{
		client: &http.Client{
			Timeout: 90 * time.Second,
		},
		model:         model,
		endpoint:      url,
		promptBuilder: &PromptBuilder{},
	}
}

func (o *OllamaSummarizer) Summarize(ctx context.Context, text string, sc SummaryContext) (string, error) {
	out, err := o.generate(ctx, o.promptBuilder.Build(text, sc))
	if err != nil {
		return "", classify(err, sc.ItemID)
	}
	return out, nil
}

func (o *OllamaSummarizer) generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(o.model) == "" {
		return "", fmt.Errorf("ollama model is required")
	}
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Provider: "ollama generate", Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var parsed ollamaGenerateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &malformedError{err: err}
	}
	text := cleanMarkdownOutput(parsed.Response)
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}
