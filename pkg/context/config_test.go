package context

import (
	"errors"
	"testing"

	ierrors "github.com/easyops/contextinject-go/pkg/core/errors"
)

func TestDefaultInjectionConfig(t *testing.T) {
	c := DefaultInjectionConfig()

	if c.MaxTotalTokens != 4096 {
		t.Errorf("expected max_total_tokens 4096, got %d", c.MaxTotalTokens)
	}
	if c.MaxContextTokens != 2048 {
		t.Errorf("expected max_context_tokens 2048, got %d", c.MaxContextTokens)
	}
	if c.TokenBuffer != 500 {
		t.Errorf("expected token_buffer 500, got %d", c.TokenBuffer)
	}
	if c.PriorityThreshold != 0.3 {
		t.Errorf("expected priority_threshold 0.3, got %f", c.PriorityThreshold)
	}
	if c.CompressionThreshold != 1000 {
		t.Errorf("expected compression_threshold 1000, got %d", c.CompressionThreshold)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestNewInjectionConfig_Options(t *testing.T) {
	c := NewInjectionConfig(
		WithModelName("claude"),
		WithMaxTotalTokens(8000),
		WithMaxContextTokens(3000),
		WithTokenBuffer(100),
		WithPriorityThreshold(0.5),
		WithCompressionThreshold(200),
	)

	if c.ModelName != "claude" || c.MaxTotalTokens != 8000 || c.MaxContextTokens != 3000 ||
		c.TokenBuffer != 100 || c.PriorityThreshold != 0.5 || c.CompressionThreshold != 200 {
		t.Errorf("options not applied: %+v", c)
	}
}

func TestInjectionConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		opts []InjectionOption
	}{
		{"zero context budget", []InjectionOption{WithMaxContextTokens(0)}},
		{"threshold above one", []InjectionOption{WithPriorityThreshold(1.5)}},
		{"negative threshold", []InjectionOption{WithPriorityThreshold(-0.1)}},
		{"negative compression threshold", []InjectionOption{WithCompressionThreshold(-1)}},
		{"negative buffer", []InjectionOption{WithTokenBuffer(-1)}},
		{"context exceeds total", []InjectionOption{WithMaxTotalTokens(100), WithMaxContextTokens(200)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewInjectionConfig(tt.opts...).Validate()
			if !errors.Is(err, ierrors.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestInjectionConfig_BudgetAndClone(t *testing.T) {
	c := NewInjectionConfig(WithMaxContextTokens(-10))
	if c.Budget() != 0 {
		t.Errorf("expected negative budget clamped to 0, got %d", c.Budget())
	}

	clone := c.Clone()
	clone.MaxContextTokens = 99
	if c.MaxContextTokens != -10 {
		t.Error("expected clone to be independent")
	}
}
