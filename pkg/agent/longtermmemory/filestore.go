package longtermmemory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/parley/pkg/logging"
)

var (
	ErrNotFound      = errors.New("longtermmemory: note not found")
	ErrAlreadyExists = errors.New("longtermmemory: note already exists")
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("longtermmemory")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize longtermmemory logger, using stderr fallback: %v", err)
	}
}

// FileStore keeps notes as Markdown files under <root>/<user id>/<note id>.md.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("longtermmemory: init directory %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("longtermmemory: abs dir: %w", err)
	}
	return &FileStore{root: abs}, nil
}

// Root returns the absolute directory notes are stored under.
func (fs *FileStore) Root() string {
	return fs.root
}

// safeName rejects identifiers that could escape their directory.
func safeName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("longtermmemory: invalid %s (empty)", kind)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("longtermmemory: invalid %s %q (contains path separator)", kind, name)
	}
	return nil
}

func (fs *FileStore) userDir(userID string) (string, error) {
	if err := safeName("user id", userID); err != nil {
		return "", err
	}
	dir := filepath.Join(fs.root, userID)
	if !strings.HasPrefix(dir, fs.root+string(filepath.Separator)) {
		return "", fmt.Errorf("longtermmemory: path traversal detected for user %q", userID)
	}
	return dir, nil
}

func (fs *FileStore) pathFor(userID, id string) (string, error) {
	dir, err := fs.userDir(userID)
	if err != nil {
		return "", err
	}
	if err := safeName("note id", id); err != nil {
		return "", err
	}
	return filepath.Join(dir, id+".md"), nil
}

// Write persists a new note. Notes are append-only: writing an id that is
// already present returns ErrAlreadyExists. The file appears atomically via a
// temporary file and rename.
func (fs *FileStore) Write(ctx context.Context, n *Note) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.Meta.Validate(); err != nil {
		return err
	}
	path, err := fs.pathFor(n.Meta.UserID, n.Meta.ID)
	if err != nil {
		return err
	}
	b, err := Serialize(n)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("longtermmemory: create user directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return ErrAlreadyExists
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("longtermmemory: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("longtermmemory: atomic rename %s: %w", path, err)
	}
	return nil
}

// Read returns one note of a user, or ErrNotFound.
func (fs *FileStore) Read(ctx context.Context, userID, id string) (*Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := fs.pathFor(userID, id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("longtermmemory: read %s: %w", path, err)
	}
	return Parse(b)
}

// ListByUser returns every readable note of a user. A user without notes
// has an empty list. Corrupt or unreadable files are skipped.
func (fs *FileStore) ListByUser(ctx context.Context, userID string) ([]*Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := fs.userDir(userID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("longtermmemory: list %s: %w", dir, err)
	}
	var out []*Note
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			debugLog.Debugf("Skipping unreadable note %s: %v", path, err)
			continue
		}
		n, err := Parse(b)
		if err != nil {
			debugLog.Debugf("Skipping corrupt note %s: %v", path, err)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
