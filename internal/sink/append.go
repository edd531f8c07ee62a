// Package sink appends extracted page text to per-key files on the local filesystem.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidKey is returned for keys that cannot name a file inside the base
// directory, such as "../x". Callers report such records as failed; nothing is
// written for them.
var ErrInvalidKey = errors.New("invalid key")

// Config captures the parameters for the append store.
type Config struct {
	// BaseDir is the directory holding one <key>.txt file per key.
	BaseDir string `mapstructure:"dir" yaml:"dir"`
}

// Store appends framed text records to <BaseDir>/<key>.txt.
type Store struct {
	baseDir string
}

// New creates the base directory (and parents) if needed and returns a Store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	return &Store{baseDir: cfg.BaseDir}, nil
}

// Path returns the file that records for key are appended to.
func (s *Store) Path(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	fullPath := filepath.Join(s.baseDir, key+".txt")

	cleanBaseDir := filepath.Clean(s.baseDir)
	cleanFullPath := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFullPath, cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrInvalidKey, key, s.baseDir)
	}
	return fullPath, nil
}

// Append writes one framed record for url to the key's file, creating it on
// first use. Existing content is never truncated. The file is closed before
// Append returns.
func (s *Store) Append(ctx context.Context, key, url, text string) (err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("context canceled: %w", ctxErr)
	}
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	// #nosec G304 -- path is confined to baseDir by Path.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	if _, err := f.WriteString(FormatRecord(url, text)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// FormatRecord renders the header line, the text and the blank-line separator.
func FormatRecord(url, text string) string {
	var b strings.Builder
	b.Grow(len(url) + len(text) + 24)
	b.WriteString("===== URL: ")
	b.WriteString(url)
	b.WriteString(" =====\n")
	b.WriteString(text)
	b.WriteString("\n\n")
	return b.String()
}
