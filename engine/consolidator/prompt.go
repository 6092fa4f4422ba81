package consolidator

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/pkoukk/tiktoken-go"
)

const systemPrompt = `You are an assistant that maintains Memory Banks for long-running projects.

Your mission: synthesize working notes into structured files following precise rules.

You receive:
1. The RULES that define the memory bank structure
2. The PREVIOUS SYNTHESIS (context from earlier consolidations)
3. The new LIVE NOTES to integrate
4. The current BANK FILES to update

You must return a JSON object with:
- "bank_files": the bank files you created or updated
- "synthesis": the residual synthesis of the processed notes

Rules:
- Follow the structure defined in the rules STRICTLY
- Integrate the new information from the live notes
- Keep existing information that is still relevant
- Drop information made obsolete by the new notes
- Every bank file must be pure Markdown (no front-matter)
- The synthesis must be concise but cover the key points
- Files that need no change may be omitted, or listed with action "unchanged" and no content`

const userPromptTemplate = `=== RULES FOR SPACE "{{ .SpaceID }}" ===
{{ .Rules }}

=== PREVIOUS SYNTHESIS ===
{{ .Synthesis | default "None — first consolidation" }}

=== LIVE NOTES TO INTEGRATE ({{ len .Notes }} notes) ===
{{- range $i, $n := .Notes }}
--- Note {{ add $i 1 }}/{{ len $.Notes }} ---
{{ $n.Content }}
{{- end }}
{{- if .NotesRemaining }}

NOTE: {{ .NotesRemaining }} older notes were left out of this batch; the next consolidation will pick them up.
{{- end }}

=== CURRENT BANK FILES ===
{{- if .BankFiles }}
{{- range .BankFiles }}
--- File: {{ .Name }} ---
{{ .Content }}
--- End file: {{ .Name }} ---
{{- end }}
{{- else }}
No bank files yet — first consolidation, create them following the rules.
{{- end }}

=== INSTRUCTIONS ===
Return a JSON object with this exact structure:
{
  "bank_files": [
    {
      "filename": "file_name.md",
      "content": "full Markdown content of the file",
      "action": "create" or "update"
    }
  ],
  "synthesis": "Markdown content of the residual synthesis"
}

IMPORTANT:
- Only include files you created or updated
- Unchanged files may be omitted, or listed with action "unchanged" and no content
- The residual synthesis must summarize the processed notes
- Bank file content must be pure Markdown`

var userPrompt = template.Must(
	template.New("consolidation").
		Option("missingkey=error").
		Funcs(sprig.FuncMap()).
		Parse(userPromptTemplate),
)

type promptNote struct {
	Content string
}

type promptBankFile struct {
	Name    string
	Content string
}

type promptData struct {
	SpaceID        string
	Rules          string
	Synthesis      string
	Notes          []promptNote
	NotesRemaining int
	BankFiles      []promptBankFile
}

// buildPrompt renders the two-message conversation sent to the model.
func buildPrompt(data *promptData) ([]Message, error) {
	var buf strings.Builder
	if err := userPrompt.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render consolidation prompt: %w", err)
	}
	return []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: buf.String()},
	}, nil
}

// estimateTokens counts the prompt footprint with cl100k_base, which is close
// enough for the models we target. When the encoding is unavailable the
// chars/4 heuristic stands in.
func estimateTokens(msgs []Message) int {
	var text strings.Builder
	for _, m := range msgs {
		text.WriteString(m.Content)
		text.WriteByte('\n')
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return text.Len() / 4
	}
	return len(enc.Encode(text.String(), nil, nil))
}
