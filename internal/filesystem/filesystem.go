package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"ftsession/internal/config"
	"ftsession/internal/errors"
)

// Store resolves LIST and GET requests to content. Implementations must be
// safe for concurrent reads, one call per server session at a time.
type Store interface {
	// List returns the listing text exactly as it is sent to the client.
	List(ctx context.Context) (string, error)

	// Open returns the named file and its size. A lookup miss wraps
	// fs.ErrNotExist.
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
}

// DirStore serves a single flat directory
type DirStore struct {
	Root string
}

// NewDirStore checks that root is a directory and returns a store over it
func NewDirStore(root string) (*DirStore, error) {
	info, err := GetFileInfo(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir {
		return nil, errors.NewValidationError("root", root, "not a directory")
	}
	return &DirStore{Root: root}, nil
}

// List renders one "<size>\t<name>\n" line per directory entry, sorted by name
func (s *DirStore) List(ctx context.Context) (string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return "", errors.NewFileSystemError("readdir", s.Root, err)
	}

	var b strings.Builder
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		info, err := entry.Info()
		if err != nil {
			// Entry vanished between readdir and stat
			slog.Debug("Skipping directory entry", "name", entry.Name(), "error", err)
			continue
		}
		fmt.Fprintf(&b, "%d\t%s\n", info.Size(), entry.Name())
	}

	return b.String(), nil
}

// Open opens a regular file directly under Root
func (s *DirStore) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	if err := ValidateFileName(name); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	path := filepath.Join(s.Root, name)
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.NewFileSystemError("open", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, errors.NewFileSystemError("stat", path, err)
	}
	if !stat.Mode().IsRegular() {
		file.Close()
		return nil, 0, errors.NewFileSystemError("open", path, fs.ErrNotExist)
	}

	return file, stat.Size(), nil
}

// FileInfo represents information about a local file
type FileInfo struct {
	Name     string
	Size     int64
	Path     string
	IsDir    bool
	Modified time.Time
}

// ValidateFilePath checks if a file path is safe and valid
func ValidateFilePath(path string) error {
	cleanPath := filepath.Clean(path)

	for _, part := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if part == ".." {
			return errors.NewValidationError("file_path", path, "path contains directory traversal")
		}
	}

	return nil
}

// ValidateFileName accepts a bare file name with no directory component
func ValidateFileName(name string) error {
	switch {
	case name == "":
		return errors.NewValidationError("file_name", name, "empty file name")
	case name == "." || name == "..":
		return errors.NewValidationError("file_name", name, "path contains directory traversal")
	case strings.ContainsAny(name, "/\\\x00"):
		return errors.NewValidationError("file_name", name, "file name must not contain separators")
	}
	return nil
}

// GetFileInfo returns information about a file
func GetFileInfo(path string) (*FileInfo, error) {
	if err := ValidateFilePath(path); err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewFileSystemError("stat", path, err)
	}

	return &FileInfo{
		Name:     stat.Name(),
		Size:     stat.Size(),
		Path:     path,
		IsDir:    stat.IsDir(),
		Modified: stat.ModTime(),
	}, nil
}

// EnsureDirectoryExists creates a directory if it doesn't exist
func EnsureDirectoryExists(dir string) error {
	if err := ValidateFilePath(dir); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, config.LogDirPerms); err != nil {
		return errors.NewFileSystemError("mkdir", dir, err)
	}

	return nil
}

// OutputPath places a remote file name inside the local output directory
func OutputPath(dir, name string) (string, error) {
	if err := ValidateFileName(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// WriteOutputFile writes a received payload to disk
func WriteOutputFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, config.OutputFilePerms); err != nil {
		return errors.NewFileSystemError("write", path, err)
	}
	return nil
}

// IsInteractive reports whether f is attached to a terminal
func IsInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// ConfirmOverwrite decides whether path may be written. A missing file is
// always writable. An existing file needs force, or a "y" answer on an
// interactive input.
func ConfirmOverwrite(path string, in io.Reader, out io.Writer, interactive, force bool) (bool, error) {
	info, err := GetFileInfo(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, err
	}

	if info.IsDir {
		return false, errors.NewValidationError("output", path, "is a directory")
	}
	if force {
		return true, nil
	}
	if !interactive {
		slog.Warn("File exists and input is not a terminal, refusing to overwrite", "path", path)
		return false, nil
	}

	fmt.Fprint(out, "File exists. Would you like to overwrite? (Y/N) ")
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		if err == io.EOF {
			return false, nil
		}
		return false, errors.NewFileSystemError("prompt", path, err)
	}

	answer = strings.TrimSpace(answer)
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes"), nil
}
