// Package catalog looks up models and their files in a remote index.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"chatd/pkg/types"
)

// DefaultPageSize is the number of entries requested per listing.
const DefaultPageSize = 100

var (
	ErrInvalidFileID = errors.New("invalid file id")
	ErrModelNotFound = errors.New("model not found")
	ErrFileNotFound  = errors.New("file not found")
)

// Catalog is the lookup capability the backend needs from a model index.
type Catalog interface {
	Featured(ctx context.Context, limit, offset int) ([]types.Model, error)
	Search(ctx context.Context, text string, limit, offset int) ([]types.Model, error)
	Model(ctx context.Context, id string) (types.Model, error)
}

// Resolve splits a composite file id and finds the model and file it names.
func Resolve(ctx context.Context, c Catalog, fileID string) (types.Model, types.File, error) {
	modelID, name, ok := types.SplitFileID(fileID)
	if !ok {
		return types.Model{}, types.File{}, fmt.Errorf("%w: %q", ErrInvalidFileID, fileID)
	}
	m, err := c.Model(ctx, modelID)
	if err != nil {
		return types.Model{}, types.File{}, err
	}
	for _, f := range m.Files {
		if f.Name == name {
			f.ID = fileID
			return m, f, nil
		}
	}
	return types.Model{}, types.File{}, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
}

// withFileIDs fills File.ID for every file of every model.
func withFileIDs(models []types.Model) []types.Model {
	for i := range models {
		for j := range models[i].Files {
			models[i].Files[j].ID = types.NewFileID(models[i].ID, models[i].Files[j].Name)
		}
	}
	return models
}
