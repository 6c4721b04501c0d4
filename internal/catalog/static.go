package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"chatd/pkg/types"
)

// StaticCatalog serves a fixed list of models, e.g. from a JSON file.
type StaticCatalog struct {
	models []types.Model
}

func NewStatic(models []types.Model) *StaticCatalog {
	return &StaticCatalog{models: withFileIDs(models)}
}

// LoadFile reads a JSON array of models.
func LoadFile(path string) (*StaticCatalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var models []types.Model
	if err := json.Unmarshal(b, &models); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return NewStatic(models), nil
}

// Featured returns every model whose files include a featured one, or all
// models when none are flagged.
func (c *StaticCatalog) Featured(_ context.Context, limit, offset int) ([]types.Model, error) {
	var out []types.Model
	for _, m := range c.models {
		for _, f := range m.Files {
			if f.Featured {
				out = append(out, m)
				break
			}
		}
	}
	if len(out) == 0 {
		out = c.models
	}
	return page(out, limit, offset), nil
}

func (c *StaticCatalog) Search(_ context.Context, text string, limit, offset int) ([]types.Model, error) {
	text = strings.ToLower(text)
	var out []types.Model
	for _, m := range c.models {
		if strings.Contains(strings.ToLower(m.ID), text) || strings.Contains(strings.ToLower(m.Name), text) ||
			strings.Contains(strings.ToLower(m.Summary), text) {
			out = append(out, m)
		}
	}
	return page(out, limit, offset), nil
}

func (c *StaticCatalog) Model(_ context.Context, id string) (types.Model, error) {
	for _, m := range c.models {
		if m.ID == id {
			m.Files = append([]types.File(nil), m.Files...)
			return m, nil
		}
	}
	return types.Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
}

func page(models []types.Model, limit, offset int) []types.Model {
	if offset >= len(models) {
		return nil
	}
	models = models[offset:]
	if limit > 0 && limit < len(models) {
		models = models[:limit]
	}
	out := make([]types.Model, len(models))
	for i, m := range models {
		m.Files = append([]types.File(nil), m.Files...)
		out[i] = m
	}
	return out
}
