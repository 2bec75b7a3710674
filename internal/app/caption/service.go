package caption

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/PabloGalante/instaflow/internal/domain"
	"github.com/PabloGalante/instaflow/internal/observability"
)

// Service turns caption requests into captions through one model call.
// It holds no per-request state.
type Service struct {
	model domain.CaptionModel
	now   func() time.Time
}

func NewService(model domain.CaptionModel) *Service {
	return &Service{
		model: model,
		now:   time.Now,
	}
}

// GenerateFromInput parses the wire input and generates a caption.
func (s *Service) GenerateFromInput(ctx context.Context, in domain.CaptionInput) (*domain.CaptionResponse, error) {
	req, err := domain.NewCaptionRequest(in)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("caption request rejected", "error", err)
		return nil, err
	}
	return s.Generate(ctx, req)
}

// Generate validates req, renders the prompt, calls the model exactly once and
// checks its output. Failures are *domain.ValidationError (nothing was sent)
// or *domain.GenerationError (the call failed or returned a bad shape).
func (s *Service) Generate(ctx context.Context, req domain.CaptionRequest) (*domain.CaptionResponse, error) {
	log := observability.LoggerFromContext(ctx).With(
		"media_type", req.Media.MIMEType,
		"has_profile", req.UserProfile != nil,
		"keywords", len(req.TrendingKeywords),
	)

	if err := req.Validate(); err != nil {
		log.Warn("caption request rejected", "error", err)
		return nil, err
	}

	prompt, err := BuildPrompt(req)
	if err != nil {
		log.Error("failed to build caption prompt", "error", err)
		return nil, &domain.GenerationError{Reason: "prompt rendering failed", Err: err}
	}

	start := s.now()
	raw, err := s.model.GenerateCaption(ctx, prompt)
	if err != nil {
		log.Error("caption model call failed", "error", err)
		return nil, &domain.GenerationError{Reason: "model call failed", Err: err}
	}

	resp, err := ParseResponse(raw)
	if err != nil {
		log.Error("caption model returned invalid output", "error", err)
		return nil, err
	}

	log.Info("caption generated", "elapsed_ms", s.now().Sub(start).Milliseconds())
	return resp, nil
}

// ParseResponse accepts only {"caption": "<non-empty string>"}.
// A fenced ```json block around the object is tolerated.
func ParseResponse(raw string) (*domain.CaptionResponse, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, &domain.GenerationError{Reason: "empty model output"}
	}

	var out struct {
		Caption *string `json:"caption"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, &domain.GenerationError{Reason: "model output is not a caption object", Err: err}
	}
	if out.Caption == nil {
		return nil, &domain.GenerationError{Reason: "model output is missing caption"}
	}
	if strings.TrimSpace(*out.Caption) == "" {
		return nil, &domain.GenerationError{Reason: "model output has an empty caption"}
	}

	return &domain.CaptionResponse{Caption: *out.Caption}, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
