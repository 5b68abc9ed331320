package assets

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// writeTree creates files (slash paths) with contents under a temp dir
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return root
}

func readAll(t *testing.T, a *Asset) string {
	t.Helper()
	defer a.Close()
	data, err := io.ReadAll(a)
	if err != nil {
		t.Fatalf("Failed to read asset %s: %v", a.Name, err)
	}
	return string(data)
}

func TestClean(t *testing.T) {
	tests := map[string]string{
		"/":                   ".",
		"":                    ".",
		"/css/style.css":      "css/style.css",
		"css//style.css":      "css/style.css",
		"/../../etc/passwd":   "etc/passwd",
		"/css/../js/app.js":   "js/app.js",
		"/a/./b/":             "a/b",
		"/..":                 ".",
		"/static/%2e%2e/x.js": "static/%2e%2e/x.js",
	}
	for in, want := range tests {
		if got := Clean(in); got != want {
			t.Errorf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStoreOpen(t *testing.T) {
	root := writeTree(t, map[string]string{
		"css/style.css":   "body { margin: 0; }",
		"js/app.js":       "console.log(1)",
		"docs/index.html": "<h1>docs</h1>",
		"img/logo.bin":    "\x00\x01\x02",
	})
	store := NewStore(root)

	tests := []struct {
		path       string
		wantName   string
		wantBody   string
		wantType   string
		wantDirIdx bool
	}{
		{"/css/style.css", "css/style.css", "body { margin: 0; }", "text/css", false},
		{"/js/app.js", "js/app.js", "console.log(1)", "application/javascript", false},
		{"/docs/", "docs/index.html", "<h1>docs</h1>", "text/html", true},
		{"/docs", "docs/index.html", "<h1>docs</h1>", "text/html", true},
		{"/img/logo.bin", "img/logo.bin", "\x00\x01\x02", DefaultContentType, false},
		{"/css/../css/style.css", "css/style.css", "body { margin: 0; }", "text/css", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			asset, err := store.Open(tt.path)
			if err != nil {
				t.Fatalf("Open(%q) error = %v", tt.path, err)
			}
			if asset.Name != tt.wantName {
				t.Errorf("Expected name %q, got %q", tt.wantName, asset.Name)
			}
			if !strings.HasPrefix(asset.ContentType, tt.wantType) {
				t.Errorf("Expected content type %q, got %q", tt.wantType, asset.ContentType)
			}
			if asset.DirIndex != tt.wantDirIdx {
				t.Errorf("Expected DirIndex %v, got %v", tt.wantDirIdx, asset.DirIndex)
			}
			if asset.Size != int64(len(tt.wantBody)) {
				t.Errorf("Expected size %d, got %d", len(tt.wantBody), asset.Size)
			}
			if body := readAll(t, asset); body != tt.wantBody {
				t.Errorf("Expected body %q, got %q", tt.wantBody, body)
			}
		})
	}
}

func TestStoreOpenErrors(t *testing.T) {
	root := writeTree(t, map[string]string{
		"css/style.css":  "body { margin: 0; }",
		".env":           "SECRET=1",
		".git/config":    "[core]",
		"empty/keep.txt": "",
	})
	// A file next to the root that traversal must not reach
	outside := filepath.Join(filepath.Dir(root), "outside-secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatalf("Failed to write outside file: %v", err)
	}
	t.Cleanup(func() { os.Remove(outside) })

	store := NewStore(root)

	tests := []struct {
		path string
		want error
	}{
		{"/non-existent", ErrNotFound},
		{"/css/missing.css", ErrNotFound},
		{"/css/style.css/extra", ErrNotFound},
		{"/empty/", ErrNotFound},
		{"/" + strings.Repeat("a", 5000), ErrNotFound},
		{"/../outside-secret.txt", ErrNotFound},
		{"/.env", ErrDotfile},
		{"/.git/config", ErrDotfile},
	}

	for _, tt := range tests {
		name := tt.path
		if len(name) > 40 {
			name = name[:40]
		}
		t.Run(name, func(t *testing.T) {
			asset, err := store.Open(tt.path)
			if err == nil {
				asset.Close()
				t.Fatalf("Open(%q) should fail", tt.path)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Open(%q) error = %v, want %v", tt.path, err, tt.want)
			}
		})
	}
}

func TestStoreRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	root := writeTree(t, map[string]string{"ok.txt": "ok"})
	secretDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(secretDir, "secret.txt"), []byte("secret"), 0644); err != nil {
		t.Fatalf("Failed to write secret: %v", err)
	}
	if err := os.Symlink(secretDir, filepath.Join(root, "link")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	asset, err := NewStore(root).Open("/link/secret.txt")
	if err == nil {
		asset.Close()
		t.Fatalf("Symlink leaving the root should not be served")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for escaping symlink, got %v", err)
	}
}

func TestStoreMissingRoot(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
	if _, err := store.Open("/css/style.css"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing root, got %v", err)
	}
}

func TestStorePermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for this user")
	}
	root := writeTree(t, map[string]string{"locked.css": "body {}"})
	if err := os.Chmod(filepath.Join(root, "locked.css"), 0); err != nil {
		t.Fatalf("Failed to chmod: %v", err)
	}

	_, err := NewStore(root).Open("/locked.css")
	if err == nil {
		t.Fatalf("Expected permission error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("Permission errors should not be reported as not found, got %v", err)
	}
}

func TestReadFile(t *testing.T) {
	root := writeTree(t, map[string]string{"index.html": "<!doctype html><title>home</title>"})

	data, err := ReadFile(filepath.Join(root, "index.html"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "<!doctype html><title>home</title>" {
		t.Errorf("Unexpected content: %q", data)
	}

	if _, err := ReadFile(filepath.Join(root, "missing.html")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := ReadFile(root); !errors.Is(err, ErrNotRegular) {
		t.Errorf("Expected ErrNotRegular for a directory, got %v", err)
	}
}
