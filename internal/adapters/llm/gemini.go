package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/PabloGalante/instaflow/internal/domain"
)

// captionSchema constrains the model output to CaptionResponse.
var captionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"caption": {
			Type:        genai.TypeString,
			Description: "The generated social media caption.",
		},
	},
	Required: []string{"caption"},
}

// GeminiConfig selects the backend and the fixed model identifier.
type GeminiConfig struct {
	Backend     string // "vertex" or "gemini"
	ProjectID   string
	Location    string
	APIKey      string
	ModelName   string
	Temperature float32
}

// GeminiClient implements domain.CaptionModel on top of Gemini, either
// through Vertex AI or the Gemini API.
type GeminiClient struct {
	client      *genai.Client
	modelName   string
	temperature float32
}

// NewGeminiClient builds the process-wide client handle. It is immutable
// after construction and safe for concurrent use.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}

	cc := &genai.ClientConfig{}
	switch cfg.Backend {
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini backend needs an API key")
		}
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	default:
		if cfg.ProjectID == "" || cfg.Location == "" {
			return nil, fmt.Errorf("vertex backend needs project and location")
		}
		cc.Project = cfg.ProjectID
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,
	}, nil
}

// ModelName returns the fixed model identifier.
func (g *GeminiClient) ModelName() string { return g.modelName }

// GenerateCaption sends the instruction plus the inline media and returns
// the raw JSON text produced by the model.
func (g *GeminiClient) GenerateCaption(ctx context.Context, prompt domain.CaptionPrompt) (string, error) {
	contents, cfg := g.captionRequest(prompt)

	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return text, nil
}

func (g *GeminiClient) captionRequest(prompt domain.CaptionPrompt) ([]*genai.Content, *genai.GenerateContentConfig) {
	parts := []*genai.Part{
		genai.NewPartFromText(prompt.Instruction),
		genai.NewPartFromBytes(prompt.Media.Data, prompt.Media.MIMEType),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	temp := g.temperature
	return contents, &genai.GenerateContentConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
		ResponseSchema:   captionSchema,
	}
}
