package assets

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Handler looks a request path up in the project root first and in the
// public directory second. Directories are never listed.
type Handler struct {
	dirs   []fs.FS
	logger *slog.Logger
}

func New(root, publicDir string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	dirs := []fs.FS{os.DirFS(root)}
	if publicDir != "" {
		dir := publicDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		dirs = append(dirs, os.DirFS(dir))
	}

	return &Handler{dirs: dirs, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name, ok := cleanPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	for _, dir := range h.dirs {
		if h.serve(w, r, dir, name) {
			return
		}
	}
	http.NotFound(w, r)
}

// cleanPath turns a URL path into an fs.FS name. Paths that climb out of
// the root are rejected.
func cleanPath(urlPath string) (string, bool) {
	if strings.Contains(urlPath, "\x00") {
		return "", false
	}
	for _, seg := range strings.Split(urlPath, "/") {
		if seg == ".." {
			return "", false
		}
	}

	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" || !fs.ValidPath(name) {
		return "", false
	}
	return name, true
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, dir fs.FS, name string) bool {
	f, err := dir.Open(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			h.logger.Debug("asset open failed", slog.String("path", name), slog.Any("err", err))
		}
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	rs, ok := f.(io.ReadSeeker)
	if !ok {
		return false
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), rs)
	return true
}
