// Package toolkit provides the built-in demo tools registered by the default
// binary: a simulated weather lookup, a safe arithmetic evaluator and a
// keyword search over a small knowledge base. They exist so the engine is
// exercisable end to end without external services.
package toolkit

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/threadmesh/threadmesh/tool"
)

// All returns every built-in tool.
func All() []tool.Tool {
	return []tool.Tool{Weather(), Calculator(), KnowledgeBase()}
}

type weatherArgs struct {
	Location string `json:"location" description:"The city or location to get weather for"`
}

// Weather returns a simulated current-weather tool.
func Weather() tool.Tool {
	conditions := []string{"sunny", "cloudy", "light rain", "partly cloudy", "overcast"}
	return tool.NewFunctionToolFromStruct(
		"get_weather",
		"Get current weather for a location.",
		weatherArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			location, _ := args["location"].(string)
			return map[string]any{
				"location":  location,
				"temp":      rand.Intn(54) + 32,
				"condition": conditions[rand.Intn(len(conditions))],
				"humidity":  rand.Intn(61) + 30,
				"unit":      "fahrenheit",
			}, nil
		})
}

type calculatorArgs struct {
	Expression string `json:"expression" description:"A mathematical expression, e.g. \"85 * 0.15\""`
}

// Calculator returns a tool that evaluates arithmetic expressions in a
// sandboxed expression language. Only numeric results are accepted.
func Calculator() tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"calculate",
		"Evaluate a mathematical expression. Supports +, -, *, /, ^ and parentheses.",
		calculatorArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			expression, _ := args["expression"].(string)
			program, err := expr.Compile(expression)
			if err != nil {
				return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
			}
			out, err := expr.Run(program, nil)
			if err != nil {
				return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
			}
			result, ok := toFloat(out)
			if !ok {
				return nil, fmt.Errorf("expression %q did not evaluate to a number", expression)
			}
			return map[string]any{"expression": expression, "result": result}, nil
		})
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// kbEntry is one knowledge base document.
type kbEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

// kbHit is a search result with its simulated relevance score.
type kbHit struct {
	kbEntry
	RelevanceScore float64 `json:"relevance_score"`
}

var knowledgeBase = []kbEntry{
	{
		ID:       "kb_001",
		Title:    "Order Status FAQ",
		Content:  "To check your order status, log into your account and visit the 'My Orders' section. You can also track your package using the tracking number sent to your email.",
		Category: "orders",
	},
	{
		ID:       "kb_002",
		Title:    "Return Policy",
		Content:  "Items can be returned within 30 days of purchase. Items must be unused and in original packaging. Refunds are processed within 5-7 business days.",
		Category: "returns",
	},
	{
		ID:       "kb_003",
		Title:    "Shipping Information",
		Content:  "Standard shipping takes 5-7 business days. Express shipping (2-3 days) is available for an additional fee. Free shipping on orders over $50.",
		Category: "shipping",
	},
	{
		ID:       "kb_004",
		Title:    "Payment Methods",
		Content:  "We accept Visa, Mastercard, American Express, PayPal, and Apple Pay. All transactions are securely processed.",
		Category: "payments",
	},
	{
		ID:       "kb_005",
		Title:    "Account Management",
		Content:  "To update your account information, go to Settings > Profile. You can change your email, password, and notification preferences there.",
		Category: "account",
	},
}

type kbArgs struct {
	Query      string  `json:"query" description:"The search query"`
	Category   *string `json:"category,omitempty" description:"Optional category filter, e.g. \"orders\" or \"returns\""`
	MaxResults *int    `json:"max_results,omitempty" description:"Maximum number of results to return (default 3)"`
}

// KnowledgeBase returns a keyword-search tool over the built-in entries.
func KnowledgeBase() tool.Tool {
	return tool.NewFunctionToolFromStruct(
		"search_knowledge_base",
		"Search the knowledge base for relevant information.",
		kbArgs{},
		func(_ context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			category, _ := args["category"].(string)
			maxResults := 3
			if raw, ok := args["max_results"].(float64); ok && raw > 0 {
				maxResults = int(raw)
			}
			return searchKnowledgeBase(query, category, maxResults), nil
		})
}

func searchKnowledgeBase(query, category string, maxResults int) []kbHit {
	queryLower := strings.ToLower(query)
	words := strings.Fields(queryLower)

	hits := []kbHit{}
	for _, entry := range knowledgeBase {
		if category != "" && entry.Category != strings.ToLower(category) {
			continue
		}
		if matchesQuery(entry, queryLower, words) {
			hits = append(hits, kbHit{kbEntry: entry, RelevanceScore: 0.85})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].RelevanceScore > hits[j].RelevanceScore
	})
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits
}

func matchesQuery(entry kbEntry, queryLower string, words []string) bool {
	title := strings.ToLower(entry.Title)
	content := strings.ToLower(entry.Content)
	if strings.Contains(title, queryLower) || strings.Contains(content, queryLower) {
		return true
	}
	for _, word := range words {
		if strings.Contains(content, word) {
			return true
		}
	}
	return false
}
