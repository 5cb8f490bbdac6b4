package api

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// localFileServer serves run result artifacts directly from the results
// directory. Incoming request paths are resolved relative to that root.
type localFileServer struct {
	log  logrus.FieldLogger
	root string
}

// newLocalFileServer creates a file server rooted at the results dir.
func newLocalFileServer(
	log logrus.FieldLogger,
	resultsDir string,
) *localFileServer {
	return &localFileServer{
		log:  log.WithField("component", "local-file-server"),
		root: filepath.Clean(resultsDir),
	}
}

// ServeFile resolves filePath under the results root and serves it via
// http.ServeFile. Returns an error when the path is disallowed or the
// file does not exist.
func (l *localFileServer) ServeFile(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) error {
	if !l.isAllowedPath(filePath) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	full := filepath.Join(l.root, filePath)

	// Defense-in-depth: ensure the resolved path stays under root.
	if !strings.HasPrefix(full, l.root+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes the results directory", filePath)
	}

	if _, err := os.Stat(full); err != nil {
		return fmt.Errorf("file %q not found: %w", filePath, err)
	}

	http.ServeFile(w, r, full)

	return nil
}

// isAllowedPath rejects empty, absolute, unclean, or traversal request paths.
func (l *localFileServer) isAllowedPath(filePath string) bool {
	if filePath == "" {
		return false
	}

	if strings.Contains(filePath, "..") {
		return false
	}

	if filepath.IsAbs(filePath) {
		return false
	}

	return path.Clean(filePath) == filePath
}
