package inference

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/hpungsan/robolabel/internal/errors"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

// generator is the subset of *genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini labels groups with a Gemini model through the Gen AI SDK.
type Gemini struct {
	models generator
	model  string
}

// NewGemini creates a Gemini API client. The API key is required.
func NewGemini(ctx context.Context, apiKey, model string, httpClient *http.Client) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.NewInvalidRequest("GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGemini(client.Models, model), nil
}

func newGemini(models generator, model string) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	return &Gemini{models: models, model: model}
}

// Model returns the model name requests are sent to.
func (g *Gemini) Model() string { return g.model }

// Label sends one user turn: the instruction, every image in order, then the
// carried context as the final part.
func (g *Gemini) Label(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts(buildParts(req), genai.RoleUser)}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// buildParts orders the request parts. The API rejects empty text parts, so
// an empty context is left out.
func buildParts(req Request) []*genai.Part {
	parts := make([]*genai.Part, 0, len(req.Images)+2)
	parts = append(parts, genai.NewPartFromText(req.Instruction))
	for _, img := range req.Images {
		mime := img.MIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, mime))
	}
	if req.Context != "" {
		parts = append(parts, genai.NewPartFromText(req.Context))
	}
	return parts
}
