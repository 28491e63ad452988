// Package uploads reads and validates file attachments for the next send.
// Staging is the session controller's job; a loaded item is handed over and
// never retained here.
package uploads

import (
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/parley/internal/chat"
)

// DefaultMaxSize caps a single attachment at 10MB unless configured otherwise.
const DefaultMaxSize = 10 * units.MB

// Loader turns file paths into attachment payloads, enforcing a size cap.
type Loader struct {
	mu      sync.Mutex
	maxSize int64
}

// NewLoader creates a loader with the default size cap.
func NewLoader() *Loader {
	return &Loader{maxSize: DefaultMaxSize}
}

// SetMaxSize parses a human-readable size limit, e.g. "10MB" or "512kb".
func (l *Loader) SetMaxSize(limit string) error {
	size, err := units.FromHumanSize(limit)
	if err != nil {
		return fmt.Errorf("invalid upload size limit %q: %w", limit, err)
	}
	l.mu.Lock()
	l.maxSize = size
	l.mu.Unlock()
	return nil
}

// Load reads a file from disk and builds the attachment payload.
func (l *Loader) Load(path string) (chat.UploadItem, error) {
	info, err := os.Stat(path)
	if err != nil {
		return chat.UploadItem{}, fmt.Errorf("failed to stat attachment: %w", err)
	}
	if info.IsDir() {
		return chat.UploadItem{}, fmt.Errorf("%s is a directory", path)
	}

	l.mu.Lock()
	maxSize := l.maxSize
	l.mu.Unlock()
	if info.Size() > maxSize {
		return chat.UploadItem{}, fmt.Errorf("%s is %s, exceeds the %s attachment limit",
			filepath.Base(path), units.HumanSize(float64(info.Size())), units.HumanSize(float64(maxSize)))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return chat.UploadItem{}, fmt.Errorf("failed to read attachment: %w", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return chat.UploadItem{
		ID:         uuid.NewString(),
		Name:       filepath.Base(path),
		MimeType:   mimeType,
		SizeBytes:  int64(len(data)),
		Base64Data: base64.StdEncoding.EncodeToString(data),
	}, nil
}
