// Package registry maps the models directory on disk to file ids.
//
// Artifacts live at <models dir>/<model id>/<file name>, where the model id
// may itself contain slashes (org/repo).
package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

// Artifact is one file found under the models directory.
type Artifact struct {
	FileID string
	Path   string
	Size   int64
}

// Scan lists every artifact under dir. A missing dir is empty.
func Scan(dir string) ([]Artifact, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	var out []Artifact
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == abs {
				return filepath.SkipAll
			}
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && p != abs {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		id, ok := FileID(abs, p)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, Artifact{FileID: id, Path: p, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", abs, err)
	}
	return out, nil
}

// FileID derives the composite id of the artifact at path. Files directly
// in dir belong to no model.
func FileID(dir, path string) (string, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	modelDir, name := filepath.Split(rel)
	modelID := strings.Trim(filepath.ToSlash(modelDir), "/")
	if modelID == "" || name == "" {
		return "", false
	}
	return types.NewFileID(modelID, name), true
}
