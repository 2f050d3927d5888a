package contenthost

import (
	"context"
	"os"
	"path/filepath"

	"github.com/miradorstack/mirador-heal/internal/utils"
)

// LocalHost serves files from a directory, typically a checked-out working tree.
type LocalHost struct {
	root string
}

// NewLocalHost roots the host at dir.
func NewLocalHost(dir string) *LocalHost {
	return &LocalHost{root: dir}
}

func (h *LocalHost) resolve(filePath string) (string, error) {
	cleaned, err := CleanPath(filePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(h.root, filepath.FromSlash(cleaned)), nil
}

// Fetch reads filePath below the root.
func (h *LocalHost) Fetch(ctx context.Context, filePath string) (string, error) {
	const op = "contenthost.LocalHost.Fetch"
	if err := ctx.Err(); err != nil {
		return "", utils.Wrap(op, "fetch "+filePath, utils.ErrFetch, err)
	}
	full, err := h.resolve(filePath)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		return "", utils.Wrap(op, "read "+filePath, utils.ErrFetch, err)
	}
	return string(raw), nil
}

// Write replaces filePath atomically through a temporary file and rename.
// The commit message is ignored.
func (h *LocalHost) Write(ctx context.Context, filePath, content, _ string) error {
	const op = "contenthost.LocalHost.Write"
	if err := ctx.Err(); err != nil {
		return utils.Wrap(op, "write "+filePath, utils.ErrWrite, err)
	}
	full, err := h.resolve(filePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return utils.Wrap(op, "create parent of "+filePath, utils.ErrWrite, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".mirador-heal-*")
	if err != nil {
		return utils.Wrap(op, "create temp file", utils.ErrWrite, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return utils.Wrap(op, "write temp file", utils.ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return utils.Wrap(op, "close temp file", utils.ErrWrite, err)
	}
	if info, err := os.Stat(full); err == nil {
		_ = os.Chmod(tmpName, info.Mode().Perm())
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return utils.Wrap(op, "replace "+filePath, utils.ErrWrite, err)
	}
	return nil
}
