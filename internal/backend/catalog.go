package backend

import (
	"context"
	"time"

	"chatd/internal/catalog"
	"chatd/pkg/types"
)

const catalogTimeout = 30 * time.Second

// featured and search call the remote catalog off the loop.

func (b *Backend) featured(c GetFeaturedModels) {
	ctx := b.ctx
	go func() {
		ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
		defer cancel()
		models, err := b.catalog.Featured(ctx, catalog.DefaultPageSize, 0)
		if err != nil {
			cached, cerr := b.store.ListModels()
			if cerr != nil || len(cached) == 0 {
				reply(c.Reply, nil, err)
				return
			}
			zlog.Warn().Err(err).Int("cached", len(cached)).Msg("catalog unreachable, serving cached models")
			models = cached
		} else {
			b.cache(models)
		}
		reply(c.Reply, b.markDownloaded(models), nil)
	}()
}

func (b *Backend) search(c SearchModels) {
	ctx := b.ctx
	go func() {
		ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
		defer cancel()
		models, err := b.catalog.Search(ctx, c.Query, catalog.DefaultPageSize, 0)
		if err != nil {
			reply(c.Reply, nil, err)
			return
		}
		b.cache(models)
		reply(c.Reply, b.markDownloaded(models), nil)
	}()
}

func (b *Backend) cache(models []types.Model) {
	for _, m := range models {
		if err := b.store.SaveModel(m); err != nil {
			zlog.Warn().Err(err).Str("model_id", m.ID).Msg("cache model")
		}
	}
}

// markDownloaded flags the files that have a completed download.
func (b *Backend) markDownloaded(models []types.Model) []types.Model {
	paths, err := b.store.DownloadedPaths()
	if err != nil {
		zlog.Warn().Err(err).Msg("list downloaded paths")
		return models
	}
	for i := range models {
		// Files may share storage with the catalog's own copy.
		models[i].Files = append([]types.File(nil), models[i].Files...)
		for j := range models[i].Files {
			f := &models[i].Files[j]
			if f.ID == "" {
				f.ID = types.NewFileID(models[i].ID, f.Name)
			}
			if p, ok := paths[f.ID]; ok {
				f.Downloaded = true
				f.DownloadedPath = p
			}
		}
	}
	return models
}
