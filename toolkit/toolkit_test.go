package toolkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeather(t *testing.T) {
	w := Weather()
	assert.Equal(t, "get_weather", w.Name())

	out, err := w.Call(context.Background(), map[string]any{"location": "Paris"})
	require.NoError(t, err)

	report := out.(map[string]any)
	assert.Equal(t, "Paris", report["location"])
	assert.Equal(t, "fahrenheit", report["unit"])
	temp := report["temp"].(int)
	assert.GreaterOrEqual(t, temp, 32)
	assert.LessOrEqual(t, temp, 85)
}

func TestWeatherRequiresLocation(t *testing.T) {
	_, err := Weather().Call(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestCalculator(t *testing.T) {
	c := Calculator()
	assert.Equal(t, "calculate", c.Name())

	tests := []struct {
		expression string
		want       float64
	}{
		{"2 + 3", 5},
		{"58 * 0.18", 10.44},
		{"(4 + 6) / 2", 5},
		{"-3 + 10", 7},
		{"2 ^ 10", 1024},
	}
	for _, tc := range tests {
		out, err := c.Call(context.Background(), map[string]any{"expression": tc.expression})
		require.NoError(t, err, tc.expression)
		result := out.(map[string]any)
		assert.InDelta(t, tc.want, result["result"].(float64), 1e-9, tc.expression)
	}
}

func TestCalculatorRejectsInvalidExpressions(t *testing.T) {
	c := Calculator()
	for _, expression := range []string{"2 +", "wat(", `"not" + "math"`} {
		_, err := c.Call(context.Background(), map[string]any{"expression": expression})
		assert.Error(t, err, expression)
	}
}

func TestKnowledgeBaseSearch(t *testing.T) {
	kb := KnowledgeBase()
	assert.Equal(t, "search_knowledge_base", kb.Name())

	out, err := kb.Call(context.Background(), map[string]any{"query": "return policy"})
	require.NoError(t, err)
	hits := out.([]kbHit)
	require.NotEmpty(t, hits)
	assert.Equal(t, "kb_002", hits[0].ID)
}

func TestKnowledgeBaseCategoryFilter(t *testing.T) {
	out, err := KnowledgeBase().Call(context.Background(), map[string]any{
		"query":    "account",
		"category": "payments",
	})
	require.NoError(t, err)
	for _, hit := range out.([]kbHit) {
		assert.Equal(t, "payments", hit.Category)
	}
}

func TestKnowledgeBaseMaxResults(t *testing.T) {
	out, err := KnowledgeBase().Call(context.Background(), map[string]any{
		"query":       "your",
		"max_results": float64(2),
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out.([]kbHit)), 2)
}

func TestAllRegistersThreeTools(t *testing.T) {
	tools := All()
	require.Len(t, tools, 3)
	names := map[string]bool{}
	for _, tl := range tools {
		names[tl.Name()] = true
	}
	assert.True(t, names["get_weather"])
	assert.True(t, names["calculate"])
	assert.True(t, names["search_knowledge_base"])
}
