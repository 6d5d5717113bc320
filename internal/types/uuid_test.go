package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUUIDWithPrefix(t *testing.T) {
	id := GenerateUUIDWithPrefix(UUID_PREFIX_SUBSCRIPTION)
	assert.True(t, strings.HasPrefix(id, "sub_"))
	assert.NotEqual(t, id, GenerateUUIDWithPrefix(UUID_PREFIX_SUBSCRIPTION))

	assert.NotContains(t, GenerateUUIDWithPrefix(""), "_")
}

func TestGenerateShortIDWithPrefix(t *testing.T) {
	id := GenerateShortIDWithPrefix(UUID_PREFIX_REQUEST)
	assert.True(t, strings.HasPrefix(id, "REQ"))
	assert.LessOrEqual(t, len(id), 12)
	assert.Equal(t, strings.ToUpper(id), id)
	assert.NotContains(t, id, "-")

	// A prefix that leaves no room for the id yields nothing.
	assert.Empty(t, GenerateShortIDWithPrefix("waytoolongprefix"))
}
