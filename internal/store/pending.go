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

// PendingFile is a pending_downloads row: the file metadata snapshot taken
// when the download was requested plus its transfer state.
type PendingFile struct {
	FileID         string
	ModelID        string
	Name           string
	Size           string
	Quantization   string
	PromptTemplate string
	ReversePrompt  string
	ContextSize    int
	FileSize       int64
	DownloadDir    string
	Tags           []string
	SHA256         string
	Progress       float64
	Status         types.PendingStatus
	LastError      string
	CreatedAt      time.Time
}

// Path is where the partial (and later complete) artifact lives.
func (p PendingFile) Path() string { return types.ArtifactPath(p.DownloadDir, p.ModelID, p.Name) }

// NewPendingFile snapshots a catalog model and file for a download into dir.
func NewPendingFile(m types.Model, f types.File, dir string) PendingFile {
	ctx := m.ContextSize
	if ctx <= 0 {
		ctx = 1024
	}
	return PendingFile{
		FileID:         types.NewFileID(m.ID, f.Name),
		ModelID:        m.ID,
		Name:           f.Name,
		Size:           f.Size,
		Quantization:   f.Quantization,
		PromptTemplate: m.PromptTemplate,
		ReversePrompt:  m.ReversePrompt,
		ContextSize:    ctx,
		DownloadDir:    dir,
		Tags:           f.Tags,
		SHA256:         f.SHA256,
		Status:         types.PendingInitializing,
		CreatedAt:      time.Now().UTC(),
	}
}

// UpsertPending inserts a new pending row or, for an existing one, moves it
// back to p.Status keeping its progress and snapshot.
func (s *Store) UpsertPending(p PendingFile) error {
	tags, err := json.Marshal(nonNil(p.Tags))
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT INTO pending_downloads (
		file_id, model_id, name, size, quantization, prompt_template, reverse_prompt, context_size,
		file_size, download_dir, tags, sha256, progress, status, last_error, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?)
	ON CONFLICT(file_id) DO UPDATE SET status = excluded.status, last_error = ''`,
		p.FileID, p.ModelID, p.Name, p.Size, p.Quantization, p.PromptTemplate, p.ReversePrompt,
		p.ContextSize, p.FileSize, p.DownloadDir, string(tags), p.SHA256, p.Progress, string(p.Status),
		formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert pending %s: %w", p.FileID, err)
	}
	return nil
}

// SetPendingSize records the remote content length.
func (s *Store) SetPendingSize(id string, size int64) error {
	return s.execPending(id, `UPDATE pending_downloads SET file_size = ? WHERE file_id = ?`, size, id)
}

// UpdatePendingProgress persists progress and status. A row deleted by a
// concurrent cancel stays deleted.
func (s *Store) UpdatePendingProgress(id string, progress float64, status types.PendingStatus) error {
	return s.execPending(id, `UPDATE pending_downloads SET progress = ?, status = ? WHERE file_id = ?`,
		progress, string(status), id)
}

// SetPendingStatus sets status and the last error message.
func (s *Store) SetPendingStatus(id string, status types.PendingStatus, lastErr string) error {
	return s.execPending(id, `UPDATE pending_downloads SET status = ?, last_error = ? WHERE file_id = ?`,
		string(status), lastErr, id)
}

// DeletePending removes a pending row. Missing rows are not an error.
func (s *Store) DeletePending(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM pending_downloads WHERE file_id = ?`, id); err != nil {
		return fmt.Errorf("delete pending %s: %w", id, err)
	}
	return nil
}

// ResetInterrupted marks rows no worker can own anymore as paused.
func (s *Store) ResetInterrupted() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE pending_downloads SET status = ? WHERE status IN (?, ?)`,
		string(types.PendingPaused), string(types.PendingDownloading), string(types.PendingInitializing))
	if err != nil {
		return 0, fmt.Errorf("reset interrupted downloads: %w", err)
	}
	return res.RowsAffected()
}

// GetPending returns the raw pending row.
func (s *Store) GetPending(id string) (PendingFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := scanPending(s.db.QueryRow(`SELECT `+pendingColumns+` FROM pending_downloads p WHERE p.file_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return PendingFile{}, ErrNotFound
	}
	if err != nil {
		return PendingFile{}, fmt.Errorf("get pending %s: %w", id, err)
	}
	return p, nil
}

// ListPending returns every unfinished download with its model. Progress is
// derived from the partial file on disk when the remote size is known.
func (s *Store) ListPending() ([]types.PendingDownload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT ` + pendingColumns + `, ` + modelColumns + `
		FROM pending_downloads p LEFT JOIN models m ON m.id = p.model_id
		ORDER BY p.created_at`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	var out []types.PendingDownload
	for rows.Next() {
		var p PendingFile
		var m types.Model
		var tags, created, released string
		err := rows.Scan(
			&p.FileID, &p.ModelID, &p.Name, &p.Size, &p.Quantization, &p.PromptTemplate, &p.ReversePrompt,
			&p.ContextSize, &p.FileSize, &p.DownloadDir, &tags, &p.SHA256, &p.Progress, &p.Status,
			&p.LastError, &created,
			&m.Name, &m.Summary, &m.Size, &m.Requires, &m.Architecture, &released, &m.PromptTemplate,
			&m.ReversePrompt, &m.ContextSize, &m.Author.Name, &m.Author.URL, &m.Author.Description,
			&m.LikeCount, &m.DownloadCount)
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		_ = json.Unmarshal([]byte(tags), &p.Tags)
		m.ID = p.ModelID
		m.ReleasedAt = parseTime(released)
		out = append(out, types.PendingDownload{
			File:      p.file(),
			Model:     m,
			Progress:  diskProgress(p),
			Status:    p.Status,
			LastError: p.LastError,
		})
	}
	return out, rows.Err()
}

func (s *Store) execPending(id, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("update pending %s: %w", id, err)
	}
	return nil
}

const pendingColumns = `p.file_id, p.model_id, p.name, p.size, p.quantization, p.prompt_template,
	p.reverse_prompt, p.context_size, p.file_size, p.download_dir, p.tags, p.sha256, p.progress,
	p.status, p.last_error, p.created_at`

func scanPending(sc scanner) (PendingFile, error) {
	var p PendingFile
	var tags, created string
	err := sc.Scan(&p.FileID, &p.ModelID, &p.Name, &p.Size, &p.Quantization, &p.PromptTemplate,
		&p.ReversePrompt, &p.ContextSize, &p.FileSize, &p.DownloadDir, &tags, &p.SHA256, &p.Progress,
		&p.Status, &p.LastError, &created)
	if err != nil {
		return p, err
	}
	_ = json.Unmarshal([]byte(tags), &p.Tags)
	p.CreatedAt = parseTime(created)
	return p, nil
}

func (p PendingFile) file() types.File {
	return types.File{
		ID:           p.FileID,
		Name:         p.Name,
		Size:         p.Size,
		Quantization: p.Quantization,
		Tags:         nonNil(p.Tags),
		SHA256:       p.SHA256,
	}
}

// diskProgress prefers the partial file's size over the last persisted value.
func diskProgress(p PendingFile) float64 {
	if p.FileSize <= 0 {
		return p.Progress
	}
	n, err := fsutil.FileSize(p.Path())
	if err != nil || n == 0 {
		return p.Progress
	}
	progress := float64(n) / float64(p.FileSize) * 100
	if progress > 100 {
		progress = 100
	}
	return progress
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
