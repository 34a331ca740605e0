package ops

import (
	"context"

	"github.com/hpungsan/robolabel/internal/store"
)

// ListFilesOutput contains the result of the ListFiles operation.
type ListFilesOutput struct {
	Files []string     `json:"files"`
	Items []store.Info `json:"items"`
}

// ListFiles returns the stored .mp4 videos sorted by name.
func ListFiles(ctx context.Context, env *Env) (*ListFilesOutput, error) {
	infos, err := env.Store.List(ctx)
	if err != nil {
		return nil, internal(err)
	}
	out := &ListFilesOutput{
		Files: make([]string, 0, len(infos)),
		Items: make([]store.Info, 0, len(infos)),
	}
	for _, info := range infos {
		out.Files = append(out.Files, info.Name)
		out.Items = append(out.Items, info)
	}
	return out, nil
}
