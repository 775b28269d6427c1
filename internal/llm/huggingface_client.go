package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charla-ai/charla/internal/consts"
)

const (
	hfInferenceBaseURL      = "https://api-inference.huggingface.co/models"
	defaultHuggingFaceModel = "meta-llama/Llama-2-7b-chat-hf"
)

// HuggingFaceClient talks to the Hugging Face Inference API text-generation
// endpoint. It is the default provider.
type HuggingFaceClient struct {
	apiToken   string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewHuggingFaceClient constructs a client for the given model. An empty
// model selects the default.
func NewHuggingFaceClient(apiToken, modelName string) (Client, error) {
	if strings.TrimSpace(apiToken) == "" {
		return nil, fmt.Errorf("hugging face client requires an API token")
	}

	model := strings.TrimSpace(modelName)
	if model == "" {
		model = defaultHuggingFaceModel
	}

	return &HuggingFaceClient{
		apiToken: apiToken,
		model:    model,
		baseURL:  hfInferenceBaseURL,
		httpClient: &http.Client{
			Timeout: consts.ProviderTimeout,
		},
	}, nil
}

func (c *HuggingFaceClient) ModelName() string {
	return c.model
}

type hfGenerationRequest struct {
	Inputs     string                 `json:"inputs"`
	Parameters hfGenerationParameters `json:"parameters"`
}

type hfGenerationParameters struct {
	MaxNewTokens   int  `json:"max_new_tokens"`
	ReturnFullText bool `json:"return_full_text"`
}

type hfGenerationResponse struct {
	GeneratedText string `json:"generated_text"`
}

type hfErrorResponse struct {
	Error string `json:"error"`
}

// Generate performs one text-generation call.
func (c *HuggingFaceClient) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if maxNewTokens <= 0 {
		maxNewTokens = consts.DefaultMaxNewTokens
	}

	payload, err := json.Marshal(hfGenerationRequest{
		Inputs: prompt,
		Parameters: hfGenerationParameters{
			MaxNewTokens:   maxNewTokens,
			ReturnFullText: false,
		},
	})
	if err != nil {
		return "", fmt.Errorf("hugging face request encode failed: %w", err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("hugging face request build failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("hugging face generation failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("hugging face generation failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr hfErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return "", fmt.Errorf("hugging face generation failed: status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return "", fmt.Errorf("hugging face generation failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var results []hfGenerationResponse
	if err := json.Unmarshal(body, &results); err != nil {
		return "", fmt.Errorf("hugging face response decode failed: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}
	return results[0].GeneratedText, nil
}
