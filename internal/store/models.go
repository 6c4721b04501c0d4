package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatd/pkg/types"
)

// SaveModel upserts a catalog entry. Files are not stored with the model.
func (s *Store) SaveModel(m types.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO models (
		id, name, summary, size, requires, architecture, released_at, prompt_template, reverse_prompt,
		context_size, author_name, author_url, author_description, like_count, download_count
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name, summary = excluded.summary, size = excluded.size,
		requires = excluded.requires, architecture = excluded.architecture,
		released_at = excluded.released_at, prompt_template = excluded.prompt_template,
		reverse_prompt = excluded.reverse_prompt, context_size = excluded.context_size,
		author_name = excluded.author_name, author_url = excluded.author_url,
		author_description = excluded.author_description, like_count = excluded.like_count,
		download_count = excluded.download_count`,
		m.ID, m.Name, m.Summary, m.Size, m.Requires, m.Architecture, formatTime(m.ReleasedAt),
		m.PromptTemplate, m.ReversePrompt, m.ContextSize, m.Author.Name, m.Author.URL,
		m.Author.Description, m.LikeCount, m.DownloadCount)
	if err != nil {
		return fmt.Errorf("save model %s: %w", m.ID, err)
	}
	return nil
}

// GetModel returns a cached catalog entry.
func (s *Store) GetModel(id string) (types.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRow(`SELECT m.id, `+modelColumns+` FROM models m WHERE m.id = ?`, id)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Model{}, ErrNotFound
	}
	if err != nil {
		return types.Model{}, fmt.Errorf("get model %s: %w", id, err)
	}
	return m, nil
}

// ListModels returns every cached catalog entry, most liked first.
func (s *Store) ListModels() ([]types.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT m.id, ` + modelColumns + ` FROM models m ORDER BY m.like_count DESC, m.id`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()
	var out []types.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// scanModel reads id followed by modelColumns.
func scanModel(sc scanner) (types.Model, error) {
	var m types.Model
	var released string
	err := sc.Scan(&m.ID, &m.Name, &m.Summary, &m.Size, &m.Requires, &m.Architecture, &released,
		&m.PromptTemplate, &m.ReversePrompt, &m.ContextSize, &m.Author.Name, &m.Author.URL,
		&m.Author.Description, &m.LikeCount, &m.DownloadCount)
	if err != nil {
		return m, err
	}
	m.ReleasedAt = parseTime(released)
	return m, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
