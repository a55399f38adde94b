package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

// OllamaClient talks to a local Ollama instance for embeddings and for the
// summary/keyword/confidence pass.
type OllamaClient struct {
	baseURL    string
	embedModel string
	genModel   string
	httpClient *http.Client
}

func NewOllamaClient(baseURL, embedModel, genModel string) *OllamaClient {
	return &OllamaClient{
		baseURL:    baseURL,
		embedModel: embedModel,
		genModel:   genModel,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding vector for the given text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := embedRequest{
		Model: c.embedModel,
		Input: text,
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	body, err := c.post(ctx, "/api/embed", data)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}

	return result.Embeddings[0], nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type annotation struct {
	Summary    string   `json:"summary"`
	Keywords   []string `json:"keywords"`
	Confidence float64  `json:"confidence"`
}

const annotatePrompt = `You are annotating a note stored in a developer's long-term memory.
Given the note below, respond with a JSON object containing:
  "summary": one sentence capturing the note's core claim,
  "keywords": up to %d lowercase search keywords,
  "confidence": a number in [0,1] for how self-contained and unambiguous the note is.

Note:
%s`

// Annotate produces the summary, keywords, and confidence for a memory's
// content. Keywords beyond the cap are dropped.
func (c *OllamaClient) Annotate(ctx context.Context, content string) (*models.Enrichment, error) {
	reqBody := generateRequest{
		Model:  c.genModel,
		Prompt: fmt.Sprintf(annotatePrompt, models.MaxEnrichmentKeywords, content),
		Format: "json",
		Stream: false,
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	body, err := c.post(ctx, "/api/generate", data)
	if err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}

	var result generateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}

	var ann annotation
	if err := json.Unmarshal([]byte(result.Response), &ann); err != nil {
		return nil, fmt.Errorf("decode annotation: %w", err)
	}

	if ann.Confidence < 0 {
		ann.Confidence = 0
	}
	if ann.Confidence > 1 {
		ann.Confidence = 1
	}
	keywords := make([]string, 0, len(ann.Keywords))
	for _, kw := range ann.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		keywords = append(keywords, kw)
		if len(keywords) >= models.MaxEnrichmentKeywords {
			break
		}
	}

	return &models.Enrichment{
		Summary:    strings.TrimSpace(ann.Summary),
		Keywords:   keywords,
		Confidence: ann.Confidence,
	}, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// HealthCheck verifies Ollama is reachable.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check: status %d", resp.StatusCode)
	}
	return nil
}
