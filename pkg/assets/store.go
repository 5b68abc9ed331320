package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Common errors
var (
	ErrNotFound   = errors.New("asset not found")
	ErrDotfile    = errors.New("dotfile access denied")
	ErrNotRegular = errors.New("not a regular file")
)

// DirectoryIndex is served when a request names a directory
const DirectoryIndex = "index.html"

// Asset is an opened file under the asset root. The caller must Close it.
type Asset struct {
	Name        string // slash-separated path relative to the root
	ContentType string
	Size        int64
	ModTime     time.Time
	// DirIndex is set when the request named a directory and Name is its index.
	DirIndex bool

	file *os.File
}

// Read implements io.Reader
func (a *Asset) Read(p []byte) (int, error) {
	return a.file.Read(p)
}

// Seek implements io.Seeker, which http.ServeContent needs for ranges
func (a *Asset) Seek(offset int64, whence int) (int64, error) {
	return a.file.Seek(offset, whence)
}

// Close releases the underlying file
func (a *Asset) Close() error {
	return a.file.Close()
}

// Store resolves URL paths to files under a root directory.
// Lookups never leave the root: ".." is removed lexically and the file is
// opened with os.OpenInRoot, which also refuses symlinks pointing outside.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir. The directory is not touched until
// the first lookup, so a missing root only turns into 404s.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the directory the store serves from
func (s *Store) Root() string {
	return s.root
}

// Clean normalizes a URL path to a slash-separated name relative to the root.
// The root itself is ".".
func Clean(urlPath string) string {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" {
		return "."
	}
	return name
}

// Open looks up urlPath under the root.
func (s *Store) Open(urlPath string) (*Asset, error) {
	name := Clean(urlPath)
	if hasDotSegment(name) {
		return nil, fmt.Errorf("%w: %s", ErrDotfile, name)
	}

	f, info, err := s.open(name)
	if err != nil {
		return nil, err
	}

	dirIndex := false
	if info.IsDir() {
		f.Close()
		name = path.Join(name, DirectoryIndex)
		f, info, err = s.open(name)
		if err != nil {
			return nil, err
		}
		dirIndex = true
	}

	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, name)
	}

	return &Asset{
		Name:        name,
		ContentType: ContentType(name),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		DirIndex:    dirIndex,
		file:        f,
	}, nil
}

func (s *Store) open(name string) (*os.File, fs.FileInfo, error) {
	f, err := os.OpenInRoot(s.root, filepath.FromSlash(name))
	if err != nil {
		return nil, nil, classify(name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return f, info, nil
}

// ReadFile reads a whole regular file outside of any root, used for the
// index document whose location is fixed by configuration.
func ReadFile(filePath string) ([]byte, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, classify(filePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, classify(filePath, err)
	}
	return data, nil
}

// classify maps open errors onto ErrNotFound. Permission errors and other
// I/O failures are returned as-is so they surface as server errors.
// Escaping the root is reported by os.Root with an unexported error and
// is treated like a missing file.
func classify(name string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, fs.ErrNotExist) {
		if isIOFailure(err) {
			return fmt.Errorf("failed to open %s: %w", name, err)
		}
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fmt.Errorf("failed to open %s: %w", name, err)
}

func hasDotSegment(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if seg != "." && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func isIOFailure(err error) bool {
	return errors.Is(err, syscall.EIO) || errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}
