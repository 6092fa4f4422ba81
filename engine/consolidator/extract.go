package consolidator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

// Actions the model may declare per bank file. Only create and update cause
// a write; unchanged entries are counted and skipped.
const (
	ActionCreate    = "create"
	ActionUpdate    = "update"
	ActionUnchanged = "unchanged"
)

// Response is the contract the model must honor.
type Response struct {
	BankFiles []BankFile `json:"bank_files"`
	Synthesis string     `json:"synthesis"`
}

type BankFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Action   string `json:"action"`
}

const responseSchema = `{
	"type": "object",
	"required": ["bank_files", "synthesis"],
	"properties": {
		"bank_files": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["filename", "action"],
				"properties": {
					"filename": {"type": "string", "minLength": 1},
					"content": {"type": "string"},
					"action": {"type": "string", "enum": ["create", "update", "unchanged"]}
				}
			}
		},
		"synthesis": {"type": "string"}
	}
}`

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	jsonFence  = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	anyFence   = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// extractJSON digs the JSON object out of a raw model reply. Thinking models
// prepend <think> blocks and most wrap JSON in code fences; the last resort
// is the outermost brace pair.
func extractJSON(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFence.FindStringSubmatch(text); m != nil {
		if candidate := strings.TrimSpace(m[1]); strings.HasPrefix(candidate, "{") {
			return candidate
		}
	}
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first != -1 && last > first {
		return text[first : last+1]
	}
	return strings.TrimSpace(text)
}

// parseResponse extracts, validates and decodes the model reply.
func parseResponse(raw string) (*Response, error) {
	text := extractJSON(raw)
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("reply is not valid JSON: %w", err)
	}
	schema, err := jsonschema.NewCompiler().Compile([]byte(responseSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile response schema: %w", err)
	}
	if result := schema.Validate(payload); !result.Valid {
		return nil, fmt.Errorf("reply violates the response schema: %v", result.Errors)
	}
	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	return &resp, nil
}
