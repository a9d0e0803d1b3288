package httpcompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/httpclient"
)

// OpenAIEmbeddingCompat implements compat.Embedding for the OpenAI-shaped
// /embeddings endpoint (also spoken by most OpenAI-compatible gateways).
// Unlike the chat compats, an embedding call carries its own endpoint
// details in config rather than a manifest-resolved EndpointConfig — §4.11
// treats embedding providers as a flatter, non-streaming concern.
type OpenAIEmbeddingCompat struct{}

var openAIEmbeddingDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIEmbeddingCompat) baseURL(config map[string]any) string {
	if v, ok := config["baseURL"].(string); ok && v != "" {
		return v
	}
	return "https://api.openai.com/v1"
}

func (c *OpenAIEmbeddingCompat) apiKey(config map[string]any) string {
	v, _ := config["apiKey"].(string)
	return v
}

func (c *OpenAIEmbeddingCompat) Embed(ctx context.Context, inputs []string, config map[string]any, modelOverride string) (compat.EmbeddingResult, error) {
	model := modelOverride
	if model == "" {
		if v, ok := config["model"].(string); ok {
			model = v
		}
	}
	body, err := json.Marshal(openAIEmbeddingRequest{Model: model, Input: inputs})
	if err != nil {
		return compat.EmbeddingResult{}, fmt.Errorf("encode embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(config)+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return compat.EmbeddingResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := c.apiKey(config); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := httpclient.New(httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders))
	resp, err := client.Do(req)
	if err != nil {
		return compat.EmbeddingResult{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return compat.EmbeddingResult{}, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return compat.EmbeddingResult{}, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var r openAIEmbeddingResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return compat.EmbeddingResult{}, fmt.Errorf("parse embedding response: %w", err)
	}
	if r.Error != nil {
		return compat.EmbeddingResult{}, fmt.Errorf("openai embedding error: %s", r.Error.Message)
	}
	vectors := make([][]float32, len(r.Data))
	for i, d := range r.Data {
		vectors[i] = d.Embedding
	}
	dims := 0
	if len(vectors) > 0 {
		dims = len(vectors[0])
	}
	return compat.EmbeddingResult{
		Vectors:    vectors,
		Model:      model,
		Dimensions: dims,
		TokenCount: r.Usage.TotalTokens,
	}, nil
}

func (c *OpenAIEmbeddingCompat) GetDimensions(config map[string]any, model string) (int, error) {
	if d, ok := openAIEmbeddingDimensions[model]; ok {
		return d, nil
	}
	if v, ok := config["dimensions"]; ok {
		if f, ok := v.(float64); ok {
			return int(f), nil
		}
	}
	return 0, fmt.Errorf("unknown embedding model %q: no dimensions configured", model)
}
