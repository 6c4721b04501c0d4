package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

const fileColumns = `f.id, f.model_id, f.name, f.size, f.quantization, f.prompt_template,
	f.reverse_prompt, f.context_size, f.file_size, f.download_dir, f.downloaded_at, f.tags,
	f.featured, f.sha256`

// CompleteDownload promotes a pending row to a download_files row in one
// transaction and returns the completed file.
func (s *Store) CompleteDownload(id string, downloadedAt time.Time) (types.DownloadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return types.DownloadedFile{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT OR REPLACE INTO download_files (
		id, model_id, name, size, quantization, prompt_template, reverse_prompt, context_size,
		file_size, download_dir, downloaded_at, tags, featured, sha256
	) SELECT file_id, model_id, name, size, quantization, prompt_template, reverse_prompt, context_size,
		file_size, download_dir, ?, tags, 0, sha256
	FROM pending_downloads WHERE file_id = ?`, formatTime(downloadedAt), id)
	if err != nil {
		return types.DownloadedFile{}, fmt.Errorf("promote %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.DownloadedFile{}, ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM pending_downloads WHERE file_id = ?`, id); err != nil {
		return types.DownloadedFile{}, fmt.Errorf("delete pending %s: %w", id, err)
	}
	f, err := scanDownloaded(tx.QueryRow(`SELECT `+fileColumns+`, `+modelColumns+`
		FROM download_files f LEFT JOIN models m ON m.id = f.model_id WHERE f.id = ?`, id))
	if err != nil {
		return types.DownloadedFile{}, fmt.Errorf("read completed %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return types.DownloadedFile{}, fmt.Errorf("commit: %w", err)
	}
	return f, nil
}

// GetDownloadedFile returns a completed artifact with its model.
func (s *Store) GetDownloadedFile(id string) (types.DownloadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := scanDownloaded(s.db.QueryRow(`SELECT `+fileColumns+`, `+modelColumns+`
		FROM download_files f LEFT JOIN models m ON m.id = f.model_id WHERE f.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.DownloadedFile{}, ErrNotFound
	}
	if err != nil {
		return types.DownloadedFile{}, fmt.Errorf("get downloaded file %s: %w", id, err)
	}
	return f, nil
}

// ListDownloadedFiles returns every completed artifact, newest first. Rows
// whose file is gone from disk are returned with Downloaded=false.
func (s *Store) ListDownloadedFiles() ([]types.DownloadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT ` + fileColumns + `, ` + modelColumns + `
		FROM download_files f LEFT JOIN models m ON m.id = f.model_id
		ORDER BY f.downloaded_at DESC, f.id`)
	if err != nil {
		return nil, fmt.Errorf("list downloaded files: %w", err)
	}
	defer rows.Close()
	var out []types.DownloadedFile
	for rows.Next() {
		f, err := scanDownloaded(rows)
		if err != nil {
			return nil, fmt.Errorf("scan downloaded file: %w", err)
		}
		if !f.File.Downloaded {
			zlog.Warn().Str("file_id", f.File.ID).Msg("downloaded file missing on disk")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DownloadedPaths maps every completed file id to its expected path.
func (s *Store) DownloadedPaths() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT id, model_id, name, download_dir FROM download_files`)
	if err != nil {
		return nil, fmt.Errorf("list downloaded paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, modelID, name, dir string
		if err := rows.Scan(&id, &modelID, &name, &dir); err != nil {
			return nil, err
		}
		out[id] = types.ArtifactPath(dir, modelID, name)
	}
	return out, rows.Err()
}

// DeleteDownloadedFile removes the row. Missing rows are not an error.
func (s *Store) DeleteDownloadedFile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM download_files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete downloaded file %s: %w", id, err)
	}
	return nil
}

func scanDownloaded(sc scanner) (types.DownloadedFile, error) {
	var f types.DownloadedFile
	var m types.Model
	var downloadedAt, tags, released string
	var featured bool
	err := sc.Scan(
		&f.File.ID, &m.ID, &f.File.Name, &f.File.Size, &f.File.Quantization, &f.PromptTemplate,
		&f.ReversePrompt, &f.ContextSize, &f.FileSize, &f.DownloadDir, &downloadedAt, &tags,
		&featured, &f.File.SHA256,
		&m.Name, &m.Summary, &m.Size, &m.Requires, &m.Architecture, &released, &m.PromptTemplate,
		&m.ReversePrompt, &m.ContextSize, &m.Author.Name, &m.Author.URL, &m.Author.Description,
		&m.LikeCount, &m.DownloadCount)
	if err != nil {
		return f, err
	}
	_ = json.Unmarshal([]byte(tags), &f.File.Tags)
	f.File.Tags = nonNil(f.File.Tags)
	f.File.Featured = featured
	f.DownloadedAt = parseTime(downloadedAt)
	m.ReleasedAt = parseTime(released)
	f.Model = m
	if p := types.ArtifactPath(f.DownloadDir, m.ID, f.File.Name); fsutil.Exists(p) {
		f.File.Downloaded = true
		f.File.DownloadedPath = p
	}
	return f, nil
}
