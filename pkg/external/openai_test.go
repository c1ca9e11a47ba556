package external

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpenAIClientDefaults(t *testing.T) {
	c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key"})

	assert.Equal(t, "gpt-4o-mini", c.model)
	assert.Equal(t, 5*time.Second, c.timeout)
	assert.NotNil(t, c.limiter)
}

func TestOpenAIClientExplicitConfigRetained(t *testing.T) {
	c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", Model: "gpt-4o", Timeout: time.Second})

	assert.Equal(t, "gpt-4o", c.model)
	assert.Equal(t, time.Second, c.timeout)
}
