package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mp21695/urbanwatch/internal/config"
	"github.com/mp21695/urbanwatch/internal/domain"
)

// Generator produces a public disclosure body for one breaching group of
// complaints in a single area and category.
type Generator interface {
	Generate(ctx context.Context, area, issueLabel string, complaints []domain.Complaint) (string, error)
}

// Prompt renders the instruction sent to language-model generators.
func Prompt(area, issueLabel string, complaints []domain.Complaint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a civic journalist writing a short public transparency report.\n\n")
	fmt.Fprintf(&b, "Context: %d unresolved citizen complaint(s) about %s in %s have exceeded their service-level deadline.\n",
		len(complaints), issueLabel, area)
	for _, c := range complaints {
		fmt.Fprintf(&b, "- Case %s at %s, filed %s, deadline %d hours: %s\n",
			c.ID, c.Location, c.CreatedAt, c.SLAHours, c.Description)
	}
	b.WriteString("\nWrite a professional, fact-based report for the public. ")
	b.WriteString("Give it a serious tone, do not include citizen names or contact details, ")
	b.WriteString("mention that the report was triggered automatically by a service-level breach, ")
	b.WriteString("and keep it under 200 words.")
	return b.String()
}

// OllamaGenerator talks to a local Ollama instance.
type OllamaGenerator struct {
	Model   string
	BaseURL string
	client  *http.Client
}

func NewOllamaGenerator(model, baseURL string, timeout time.Duration) *OllamaGenerator {
	return &OllamaGenerator{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Available checks that Ollama is reachable and serves the model.
func (o *OllamaGenerator) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}
	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	log.Printf("Ollama model %q not found", o.Model)
	return false
}

func (o *OllamaGenerator) Generate(ctx context.Context, area, issueLabel string, complaints []domain.Complaint) (string, error) {
	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": Prompt(area, issueLabel, complaints)},
		},
		"stream": false,
		"options": map[string]any{
			"num_predict": 400,
			"temperature": 0.3,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama API error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return strings.TrimSpace(result.Message.Content), nil
}

// OpenAIGenerator talks to the OpenAI chat completions API.
type OpenAIGenerator struct {
	Model  string
	APIKey string
	client *http.Client
}

func NewOpenAIGenerator(model, apiKeyEnv string, timeout time.Duration) *OpenAIGenerator {
	return &OpenAIGenerator{
		Model:  model,
		APIKey: os.Getenv(apiKeyEnv),
		client: &http.Client{Timeout: timeout},
	}
}

func (o *OpenAIGenerator) Available() bool {
	return o.APIKey != ""
}

func (o *OpenAIGenerator) Generate(ctx context.Context, area, issueLabel string, complaints []domain.Complaint) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}
	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": Prompt(area, issueLabel, complaints)},
		},
		"max_tokens":  400,
		"temperature": 0.3,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("OpenAI API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// StaticGenerator produces a deterministic factual report without any
// external service. It is the fallback when no model is reachable.
type StaticGenerator struct{}

func (StaticGenerator) Generate(_ context.Context, area, issueLabel string, complaints []domain.Complaint) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%d unresolved %s complaint(s) in %s have exceeded their service-level deadline.\n\n",
		len(complaints), strings.ToLower(issueLabel), area)
	for _, c := range complaints {
		fmt.Fprintf(&b, "Case %s, filed %s near %s, was due for resolution within %d hours and remains pending.\n",
			c.ID, c.CreatedAt, c.Location, c.SLAHours)
	}
	b.WriteString("\nThis report was published automatically after a service-level breach was detected.")
	return b.String(), nil
}

// FromConfig selects a generator based on configuration. It always returns
// a usable generator; when no model provider is reachable it falls back to
// the static one.
func FromConfig(cfg *config.Config) Generator {
	if cfg == nil {
		return StaticGenerator{}
	}
	timeout, err := cfg.GeneratorTimeout()
	if err != nil {
		timeout = 2 * time.Minute
	}
	switch strings.ToLower(cfg.Generator.Provider) {
	case "ollama":
		g := NewOllamaGenerator(cfg.Generator.Model, cfg.Generator.OllamaURL, timeout)
		if g.Available() {
			log.Printf("using Ollama with model %s", g.Model)
			return g
		}
		log.Println("Ollama not available, trying OpenAI fallback")
		fallthrough
	case "openai":
		g := NewOpenAIGenerator(cfg.Generator.OpenAIModel, cfg.Generator.APIKeyEnv, timeout)
		if g.Available() {
			log.Printf("using OpenAI with model %s", g.Model)
			return g
		}
		log.Println("no model provider available, using static reports")
	}
	return StaticGenerator{}
}
