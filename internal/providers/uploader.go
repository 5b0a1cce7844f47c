package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/osvaldoandrade/mpsflow/pkg/config"
)

// Uploader stores solve artifacts and returns a URL for the stored object.
type Uploader interface {
	UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error)
}

// NewUploader builds the uploader selected by artifacts.backend. It returns
// nil for "none".
func NewUploader(ctx context.Context, cfg config.ArtifactsConfig) (Uploader, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return nil, nil
	case "local":
		return NewLocalUploader(cfg.LocalDir), nil
	case "minio":
		return NewMinIOUploader(ctx, cfg.MinIO)
	}
	return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Backend)
}

type localUploader struct {
	rootDir string
}

func NewLocalUploader(rootDir string) Uploader {
	return &localUploader{rootDir: rootDir}
}

func (u *localUploader) UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error) {
	dst := filepath.Join(u.rootDir, filepath.FromSlash(objectPath))
	if rel, err := filepath.Rel(u.rootDir, dst); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("object path %q escapes artifact dir", objectPath)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	// temp file + rename: readers never see a partial artifact
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	abs, _ := filepath.Abs(dst)
	return "file://" + abs, nil
}
