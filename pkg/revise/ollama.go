package revise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nzoschke/mashlab/pkg/recipe"
)

const defaultBaseURL = "http://localhost:11434"

const systemPrompt = `You are a music production assistant. Your task is to modify a JSON "mashup recipe" based on a user's natural language command.
Your ONLY output must be the complete, modified JSON recipe. Do not add any conversational text or code fences.
Rules:
1. Analyze the user's command to understand their intent.
2. Identify the target timeline item(s) to modify.
3. Modify the JSON structure directly to apply the change.
4. If changing timing, update the "time_ms" fields for the target item and all subsequent items.
5. Increment the "version" number by 1.
6. Keep the "briefs" array unchanged.
7. Ensure the final output is a single, valid JSON object.`

// OllamaProvider revises recipes through a local Ollama chat endpoint
// running in JSON format mode.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

// NewOllamaProvider returns a provider for the given Ollama base URL and
// model. Empty arguments fall back to localhost and a default model.
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = "llama3.1:8b"
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

// Revise sends the recipe and instruction to the chat endpoint and parses
// the response body as a replacement recipe.
func (p *OllamaProvider) Revise(ctx context.Context, rec recipe.Recipe, instruction string) (recipe.Recipe, error) {
	recJSON, err := marshalRecipe(rec)
	if err != nil {
		return recipe.Recipe{}, err
	}

	userPrompt := fmt.Sprintf("Current mashup recipe:\n%s\n\nUser's command:\n%q\n\nProvide the complete, updated JSON recipe.", recJSON, instruction)

	payload := chatRequest{
		Model:  p.model,
		Stream: false,
		Format: "json",
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return recipe.Recipe{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return recipe.Recipe{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return recipe.Recipe{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return recipe.Recipe{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return recipe.Recipe{}, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != "" {
		return recipe.Recipe{}, fmt.Errorf("service error: %s", parsed.Error)
	}

	content := strings.TrimSpace(parsed.Message.Content)
	if content == "" {
		return recipe.Recipe{}, fmt.Errorf("empty response")
	}

	revised, err := recipe.Parse([]byte(content))
	if err != nil {
		return recipe.Recipe{}, fmt.Errorf("decode revised recipe: %w", err)
	}
	return revised, nil
}
