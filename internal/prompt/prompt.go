// Package prompt holds the instruction template sent with every group.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/hpungsan/robolabel/internal/errors"
)

// DefaultVersion identifies the embedded template.
const DefaultVersion = "builtin-v1"

// Placeholders recognised in templates.
const (
	StartTime    = "{start_time}"
	EndTime      = "{end_time}"
	LastAnalysis = "{last_analysis}"
)

//go:embed default_prompt.txt
var defaultText string

// Template is a parsed instruction template.
type Template struct {
	Version string
	text    string
}

// Vars are the values substituted for one group.
type Vars struct {
	StartTime    string
	EndTime      string
	LastAnalysis string
}

// Default returns the embedded template.
func Default() *Template {
	return &Template{Version: DefaultVersion, text: defaultText}
}

// Parse validates a template body. {end_time} is required since it carries
// the group's time ceiling.
func Parse(version, text string) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.NewInvalidRequest("prompt template is empty")
	}
	if !strings.Contains(text, EndTime) {
		return nil, errors.NewInvalidRequest("prompt template must contain " + EndTime)
	}
	return &Template{Version: version, text: text}, nil
}

// Load returns the template at path, or the embedded one when path is empty.
// The file name is used as the version.
func Load(path string) (*Template, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("prompt", path)
		}
		return nil, fmt.Errorf("read prompt %s: %w", path, err)
	}
	return Parse("file:"+path, string(data))
}

// Render substitutes every placeholder. Values are inserted verbatim; a
// placeholder-looking string inside LastAnalysis is not expanded again.
func (t *Template) Render(v Vars) string {
	r := strings.NewReplacer(
		StartTime, v.StartTime,
		EndTime, v.EndTime,
		LastAnalysis, v.LastAnalysis,
	)
	return r.Replace(t.text)
}

// Text returns the raw template body.
func (t *Template) Text() string { return t.text }
