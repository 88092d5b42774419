package docgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"docgen-service/internal/entity"
)

var extensions = map[entity.OutputFormat]string{
	entity.OutputMarkdown: "md",
	entity.OutputHTML:     "html",
}

// FileStore writes generated documents under a base directory and returns the
// download path the API tier serves them from.
type FileStore struct {
	baseDir string
	baseURL string
}

func NewFileStore(baseDir, baseURL string) *FileStore {
	return &FileStore{baseDir: baseDir, baseURL: baseURL}
}

func (s *FileStore) Store(ctx context.Context, jobID uuid.UUID, serviceName string, format entity.OutputFormat, content string) (string, error) {
	ext, ok := extensions[format]
	if !ok {
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
	dir := filepath.Join(s.baseDir, jobID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}
	filename := fmt.Sprintf("%s.%s", serviceName, ext)
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return fmt.Sprintf("%s/%s/%s", s.baseURL, jobID, filename), nil
}
