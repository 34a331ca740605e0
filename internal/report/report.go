// Package report turns a stored labeling result into Markdown for people.
// The stored text itself is never modified.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is one labeled step as the instruction template asks for it.
type Action struct {
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description"`
}

// Parse reads text as a JSON array of actions. Models often wrap the array
// in a ```json fence or add a sentence around it, so the outermost [...] is
// taken. ok is false when nothing usable is found.
func Parse(text string) ([]Action, bool) {
	body := stripFence(strings.TrimSpace(text))
	start := strings.Index(body, "[")
	end := strings.LastIndex(body, "]")
	if start < 0 || end < start {
		return nil, false
	}

	var actions []Action
	if err := json.Unmarshal([]byte(body[start:end+1]), &actions); err != nil {
		return nil, false
	}
	for _, a := range actions {
		if a.Description == "" && a.StartTime == "" && a.EndTime == "" {
			return nil, false
		}
	}
	return actions, true
}

// Markdown renders text as a table of actions when it parses, or as a
// fenced block of the raw text otherwise.
func Markdown(title, text string) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	if strings.TrimSpace(text) == "" {
		b.WriteString("_No actions labeled._\n")
		return b.String()
	}

	actions, ok := Parse(text)
	if !ok {
		fence := "```"
		for strings.Contains(text, fence) {
			fence += "`"
		}
		fmt.Fprintf(&b, "%s\n%s\n%s\n", fence, strings.TrimRight(text, "\n"), fence)
		return b.String()
	}
	if len(actions) == 0 {
		b.WriteString("_No actions labeled._\n")
		return b.String()
	}

	b.WriteString("| # | Start | End | Action |\n")
	b.WriteString("|---|-------|-----|--------|\n")
	for i, a := range actions {
		fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", i+1, cell(a.StartTime), cell(a.EndTime), cell(a.Description))
	}
	return b.String()
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, "```")
}

// cell keeps a value on one table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
