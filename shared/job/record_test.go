package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusProcessing, StatusOf(PlaceholderValue))
	assert.Equal(t, StatusFailed, StatusOf(FailedValue))
	assert.Equal(t, StatusCompleted, StatusOf("Normal"))
	assert.Equal(t, StatusCompleted, StatusOf("Tuberculosis"))
}
