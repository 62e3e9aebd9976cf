// internal/config/types_test.go
package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_Redaction(t *testing.T) {
	s := Secret("super-secret-token")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", s.GoString())
	assert.NotContains(t, fmt.Sprintf("%v", s), "super-secret-token")
	assert.NotContains(t, fmt.Sprintf("%s", s), "super-secret-token")
	assert.NotContains(t, fmt.Sprintf("%#v", s), "super-secret-token")
}

func TestSecret_EmptyStaysEmpty(t *testing.T) {
	var s Secret

	assert.Equal(t, "", s.String())
	assert.False(t, s.IsSet())
}

func TestSecret_Value(t *testing.T) {
	s := Secret("super-secret-token")

	assert.Equal(t, "super-secret-token", s.Value())
	assert.True(t, s.IsSet())
}

func TestSecret_MarshalJSON(t *testing.T) {
	payload := struct {
		APIKey Secret `json:"api_key"`
		Empty  Secret `json:"empty"`
	}{APIKey: "super-secret-token"}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"api_key":"[REDACTED]"`)
	assert.Contains(t, string(data), `"empty":""`)
	assert.NotContains(t, string(data), "super-secret-token")
}

func TestSecret_MarshalText(t *testing.T) {
	data, err := Secret("super-secret-token").MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", string(data))

	data, err = Secret("").MarshalText()
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestSecret_MarshalYAML(t *testing.T) {
	v, err := Secret("super-secret-token").MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", v)
}

func TestSecret_UnmarshalText(t *testing.T) {
	var s Secret
	require.NoError(t, s.UnmarshalText([]byte("raw-value")))
	assert.Equal(t, "raw-value", s.Value())
}
