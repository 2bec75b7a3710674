package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/PabloGalante/instaflow/internal/domain"
)

// MockLLM returns a canned caption. Used in local mode and tests.
type MockLLM struct {
	calls atomic.Int64
}

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

func (m *MockLLM) GenerateCaption(_ context.Context, prompt domain.CaptionPrompt) (string, error) {
	m.calls.Add(1)
	out, err := json.Marshal(domain.CaptionResponse{
		Caption: fmt.Sprintf("Living for this %s moment ✨ #nofilter", prompt.Media.Kind()),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Calls returns how many times the model was invoked.
func (m *MockLLM) Calls() int64 {
	return m.calls.Load()
}

// Func adapts a plain function to domain.CaptionModel.
type Func func(ctx context.Context, prompt domain.CaptionPrompt) (string, error)

func (f Func) GenerateCaption(ctx context.Context, prompt domain.CaptionPrompt) (string, error) {
	return f(ctx, prompt)
}
