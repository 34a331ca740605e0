package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockModel selects the offline labeler in configuration.
const MockModel = "mock"

// Action is one labeled span as the model is asked to produce it.
type Action struct {
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description"`
}

// Mock is an offline Labeler. It extends the carried action list with one
// entry per group, or stretches the previous entry when the description
// repeats, mimicking the carry-forward the real model is instructed to do.
type Mock struct {
	// Describe names the action seen in a group. Defaults to a fixed label.
	Describe func(req Request) string
}

func (m *Mock) Label(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var actions []Action
	if strings.TrimSpace(req.Context) != "" {
		if err := json.Unmarshal([]byte(req.Context), &actions); err != nil {
			return "", fmt.Errorf("mock: carried context is not an action list: %w", err)
		}
	}

	desc := "observe the workspace"
	if m.Describe != nil {
		desc = m.Describe(req)
	}

	if n := len(actions); n > 0 && actions[n-1].Description == desc {
		actions[n-1].EndTime = req.EndTime
	} else {
		start := req.StartTime
		if n > 0 {
			start = actions[n-1].EndTime
		}
		actions = append(actions, Action{StartTime: start, EndTime: req.EndTime, Description: desc})
	}

	out, err := json.MarshalIndent(actions, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
