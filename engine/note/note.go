// Package note defines the live note document format: a YAML front-matter
// header followed by a free-form Markdown body, stored under
// `{space}/live/{timestamp}_{agent}_{category}_{uid}.md`.
package note

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Categories lists the accepted note categories, in display order.
var Categories = []string{
	"observation",
	"decision",
	"todo",
	"insight",
	"question",
	"progress",
	"issue",
}

// FileTimestampLayout is the leading timestamp segment of note filenames.
// It sorts lexicographically in chronological order.
const FileTimestampLayout = "20060102T150405"

var (
	agentSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	fileTimestamp  = regexp.MustCompile(`^(\d{8}T\d{6})_`)
)

// Note is a parsed live note as returned by read and search operations.
type Note struct {
	Filename  string   `json:"filename"`
	Timestamp string   `json:"timestamp"`
	Agent     string   `json:"agent"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	Content   string   `json:"content"`
}

// ValidCategory reports whether c is one of the accepted categories.
func ValidCategory(c string) bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// SanitizeAgent strips every character outside [a-zA-Z0-9_-] from the agent
// name so it can be embedded in a filename. An agent that sanitizes to the
// empty string becomes "agent".
func SanitizeAgent(agent string) string {
	safe := agentSanitizer.ReplaceAllString(agent, "")
	if safe == "" {
		return "agent"
	}
	return safe
}

// BuildFilename returns a collision-free filename for a note written at t:
// `{YYYYMMDDTHHMMSS}_{agent}_{category}_{uid8}.md`. The agent segment is
// sanitized; the uid is the first 8 hex characters of a random UUID.
func BuildFilename(t time.Time, agent, category string) string {
	u := uuid.New()
	uid8 := hex.EncodeToString(u[:4])
	return fmt.Sprintf("%s_%s_%s_%s.md",
		t.UTC().Format(FileTimestampLayout), SanitizeAgent(agent), category, uid8)
}

// Document renders the stored form of a note. The front-matter field order is
// fixed so documents diff cleanly; tags serialize as a JSON array, which YAML
// reads back as a flow sequence. The agent field keeps the raw (unsanitized)
// name.
func Document(spaceID, agent, category, content string, tags []string, ts string) string {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "timestamp: %q\n", ts)
	fmt.Fprintf(&b, "agent: %q\n", agent)
	fmt.Fprintf(&b, "category: %q\n", category)
	fmt.Fprintf(&b, "tags: %s\n", tagsJSON)
	fmt.Fprintf(&b, "space_id: %q\n", spaceID)
	b.WriteString("---\n\n")
	b.WriteString(content)
	return b.String()
}

// Parse reads a stored note document back into a Note. The front-matter is
// deliberately parsed line by line rather than with a YAML library: only the
// documented fields are read, values are unquoted, and unknown or garbled
// lines are ignored. Parse returns false only when the front-matter block is
// unterminated; callers skip such notes. A document with no front-matter at
// all yields a Note with only the filename and body populated.
func Parse(key, raw string) (Note, bool) {
	filename := key
	if i := strings.LastIndex(key, "/"); i >= 0 {
		filename = key[i+1:]
	}
	n := Note{Filename: filename, Tags: []string{}}

	if !strings.HasPrefix(raw, "---") {
		n.Content = strings.TrimSpace(raw)
		return n, true
	}

	parts := strings.SplitN(raw, "---", 3)
	if len(parts) < 3 {
		return Note{}, false
	}
	front := strings.TrimSpace(parts[1])
	n.Content = strings.TrimSpace(parts[2])

	fm := map[string]string{}
	for _, line := range strings.Split(front, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		v = strings.Trim(v, `"`)
		v = strings.Trim(v, `'`)
		fm[strings.TrimSpace(k)] = v
	}
	n.Timestamp = fm["timestamp"]
	n.Agent = fm["agent"]
	n.Category = fm["category"]
	if tagsRaw := fm["tags"]; strings.HasPrefix(tagsRaw, "[") {
		var tags []string
		if err := json.Unmarshal([]byte(tagsRaw), &tags); err == nil && tags != nil {
			n.Tags = tags
		}
	}
	return n, true
}

// ParseTags splits a comma-separated tag string, trimming whitespace and
// dropping empty entries.
func ParseTags(csv string) []string {
	tags := []string{}
	for _, t := range strings.Split(csv, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// FileTimestamp extracts the leading timestamp segment from a note filename.
// It returns false for filenames that do not follow the note naming scheme.
func FileTimestamp(filename string) (string, bool) {
	m := fileTimestamp.FindStringSubmatch(filename)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FileAgent extracts the agent segment from a note filename, or "unknown"
// when the filename does not carry one. Agents whose names contain
// underscores are reported by their first segment only.
func FileAgent(filename string) string {
	parts := strings.Split(filename, "_")
	if len(parts) < 3 {
		return "unknown"
	}
	return parts[1]
}

// MatchesAgent reports whether a note filename belongs to the given agent.
// The agent name appears as the second underscore-delimited segment, but
// agents containing underscores span several segments, so the check is a
// delimited substring match.
func MatchesAgent(filename, agent string) bool {
	return strings.Contains(filename, "_"+agent+"_") ||
		strings.HasPrefix(filename, agent+"_")
}
