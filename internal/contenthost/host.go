// Package contenthost abstracts the version-control host that owns the live
// files patches are written to.
package contenthost

import (
	"context"
	"path"
	"strings"

	"github.com/miradorstack/mirador-heal/internal/utils"
)

// Host reads and writes file content on the external host.
// Fetch failures carry utils.ErrFetch and write failures carry utils.ErrWrite.
type Host interface {
	Fetch(ctx context.Context, filePath string) (string, error)
	Write(ctx context.Context, filePath, content, message string) error
}

// CleanPath normalises a repository-relative path and rejects paths that
// escape the repository root.
func CleanPath(filePath string) (string, error) {
	trimmed := strings.TrimSpace(filePath)
	if trimmed == "" {
		return "", utils.Validation("contenthost.CleanPath", "path is required")
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(trimmed, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", utils.Validation("contenthost.CleanPath", "path "+filePath+" is not a file")
	}
	for _, part := range strings.Split(strings.ReplaceAll(trimmed, "\\", "/"), "/") {
		if part == ".." {
			return "", utils.Validation("contenthost.CleanPath", "path "+filePath+" escapes the repository root")
		}
	}
	return cleaned, nil
}
