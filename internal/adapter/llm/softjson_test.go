package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONRaw(t *testing.T) {
	raw, err := ExtractJSON(`{"title": "Go", "pages": 10}`)
	require.NoError(t, err)

	var v map[string]any
	require.NoError(t, json.Unmarshal(raw, &v))
	assert.Equal(t, "Go", v["title"])
}

func TestExtractJSONFromProse(t *testing.T) {
	response := "Sure, here is the outline:\n{\"sections\": [\"intro\", \"body\"]}\nLet me know!"
	raw, err := ExtractJSON(response)
	require.NoError(t, err)

	var v map[string]any
	require.NoError(t, json.Unmarshal(raw, &v))
	assert.Len(t, v["sections"], 2)
}

func TestExtractJSONFromCodeFence(t *testing.T) {
	response := "```json\n{\"ok\": true,}\n```"
	raw, err := ExtractJSON(response)
	require.NoError(t, err)

	var v map[string]any
	require.NoError(t, json.Unmarshal(raw, &v))
	assert.Equal(t, true, v["ok"])
}

func TestExtractJSONLongestWins(t *testing.T) {
	response := `first {"a": 1} then {"b": {"c": 2, "d": 3}}`
	raw, err := ExtractJSON(response)
	require.NoError(t, err)

	var v map[string]any
	require.NoError(t, json.Unmarshal(raw, &v))
	assert.Contains(t, v, "b")
	assert.NotContains(t, v, "a")
}

func TestExtractJSONRepairsTruncation(t *testing.T) {
	response := `{"slides": [{"title": "One"}, {"title": "Two"`
	raw, err := ExtractJSON(response)
	require.NoError(t, err)

	var v map[string]any
	require.NoError(t, json.Unmarshal(raw, &v))
	slides, ok := v["slides"].([]any)
	require.True(t, ok)
	assert.Len(t, slides, 2)
}

func TestExtractJSONArray(t *testing.T) {
	raw, err := ExtractJSON(`[1, 2, 3]`)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(raw))
}

func TestExtractJSONNoObject(t *testing.T) {
	_, err := ExtractJSON("there is no structured data here")
	assert.Error(t, err)

	_, err = ExtractJSON("")
	assert.Error(t, err)

	_, err = ExtractJSON(`"just a string"`)
	assert.Error(t, err)
}

func TestRepairJSONTrailingCommaInString(t *testing.T) {
	// Commas inside string values must survive the trailing-comma pass.
	raw, err := ExtractJSON(`{"text": "a, }", "n": 1,}`)
	require.NoError(t, err)

	var v map[string]any
	require.NoError(t, json.Unmarshal(raw, &v))
	assert.Equal(t, "a, }", v["text"])
}
