package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitRegistryEnablesMetrics(t *testing.T) {
	assert.False(t, IsEnabled())

	reg := InitRegistry()
	t.Cleanup(func() { registry = nil })

	assert.True(t, IsEnabled())
	assert.Same(t, reg, GetRegistry())
}
