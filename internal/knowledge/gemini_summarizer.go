package knowledge

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiSummarizer implements Summarizer using Gemini text generation.
type GeminiSummarizer struct {
	client        *genai.Client
	model         string
	promptBuilder *PromptBuilder
}

func NewGeminiSummarizer(ctx context.Context, apiKey string, modelName string) (*GeminiSummarizer, error) {
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiSummarizer{
		client:        client,
		model:         modelName,
		promptBuilder: &PromptBuilder{},
	}, nil
}

func (s *GeminiSummarizer) Summarize(ctx context.Context, text string, sc SummaryContext) (string, error) {
	prompt := s.promptBuilder.Build(text, sc)
	out, err := s.generate(ctx, prompt)
	if err != nil {
		return "", classify(err, sc.ItemID)
	}
	return out, nil
}

func (s *GeminiSummarizer) generate(ctx context.Context, prompt string) (string, error) {
	contents := genai.Text(prompt)
	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		return "", err
	}
	text := cleanMarkdownOutput(resp.Text())
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}
