// Package scanner discovers indexable documents under registered folders.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quarrysearch/quarry/internal/extract"
)

// DefaultMaxFileSize is the default maximum file size (100MB).
const DefaultMaxFileSize = 100 * 1024 * 1024

// FileInfo contains metadata about a discovered document.
type FileInfo struct {
	Path    string // Absolute path
	RelPath string // Relative to the scanned folder
	Folder  string // The scanned folder root
	Size    int64
	ModTime time.Time
}

// Scanner walks folders and reports supported documents.
type Scanner struct {
	maxFileSize int64
}

// New creates a scanner. maxFileSize of 0 takes the default.
func New(maxFileSize int64) *Scanner {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Scanner{maxFileSize: maxFileSize}
}

// Scan walks folder and returns every supported document under it.
// Hidden files and directories (dot-prefixed) are skipped, as are files
// above the size cap. The walk stops early when ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context, folder string) ([]*FileInfo, error) {
	absFolder, err := filepath.Abs(folder)
	if err != nil {
		return nil, fmt.Errorf("resolve folder path: %w", err)
	}

	info, err := os.Stat(absFolder)
	if err != nil {
		return nil, fmt.Errorf("stat folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absFolder)
	}

	var files []*FileInfo
	err = filepath.WalkDir(absFolder, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name := d.Name()
		if d.IsDir() {
			if path != absFolder && strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if !extract.Supported(path) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > s.maxFileSize {
			return nil
		}

		rel, err := filepath.Rel(absFolder, path)
		if err != nil {
			rel = name
		}

		files = append(files, &FileInfo{
			Path:    path,
			RelPath: rel,
			Folder:  absFolder,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// Stat builds a FileInfo for a single path under folder. Used by the
// watcher path, where a full folder walk would be wasteful.
func Stat(folder, path string) (*FileInfo, error) {
	absFolder, err := filepath.Abs(folder)
	if err != nil {
		return nil, fmt.Errorf("resolve folder path: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve file path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("not a file: %s", absPath)
	}

	rel, err := filepath.Rel(absFolder, absPath)
	if err != nil {
		rel = filepath.Base(absPath)
	}

	return &FileInfo{
		Path:    absPath,
		RelPath: rel,
		Folder:  absFolder,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Fingerprint returns the SHA256 hex digest of a file's content.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for fingerprint: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DocID derives a stable document identifier from an absolute path.
func DocID(path string) string {
	hash := sha256.Sum256([]byte(path))
	return hex.EncodeToString(hash[:])[:16]
}
