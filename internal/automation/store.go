package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store persists generated automations.
type Store interface {
	Append(ctx context.Context, rec Record) error
}

// Reloader asks Home Assistant to reload its automations.
type Reloader interface {
	Reload(ctx context.Context) error
}

// StoreError is a failure to read, write or reload the automations file.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("automation store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// FileStore appends automations to a YAML sequence file, normally Home
// Assistant's automations.yaml. Appends are serialized within the
// process; edits made by other writers between read and rename are lost.
type FileStore struct {
	path     string
	reloader Reloader
	logger   *slog.Logger

	mu sync.Mutex
}

// NewFileStore returns a store writing to path. A nil reloader skips the
// reload after each write.
func NewFileStore(path string, reloader Reloader, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, reloader: reloader, logger: logger}
}

// Path returns the file the store writes to.
func (s *FileStore) Path() string { return s.path }

// Append adds rec to the end of the file and triggers a reload. Existing
// entries are kept as decoded nodes so their content and key order
// survive the rewrite.
func (s *FileStore) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, list, err := s.read()
	if err != nil {
		return err
	}

	var node yaml.Node
	if err := node.Encode(rec); err != nil {
		return &StoreError{Op: "encode", Err: err}
	}
	list.Content = append(list.Content, &node)

	if err := s.write(doc); err != nil {
		return err
	}
	s.logger.Info("automation saved",
		"id", rec.ID,
		"alias", rec.Alias,
		"path", s.path,
		"total", len(list.Content),
	)

	if s.reloader == nil {
		return nil
	}
	if err := s.reloader.Reload(ctx); err != nil {
		return &StoreError{Op: "reload", Err: err}
	}
	return nil
}

// List returns the automations currently in the file.
func (s *FileStore) List() ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, list, err := s.read()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := list.Decode(&out); err != nil {
		return nil, &StoreError{Op: "read", Err: err}
	}
	return out, nil
}

// read loads the file as a document node and its top-level sequence. A
// missing or empty file is an empty sequence; any other top-level shape
// is refused.
func (s *FileStore) read() (doc, list *yaml.Node, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, &StoreError{Op: "read", Err: err}
	}

	var root yaml.Node
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, nil, &StoreError{Op: "read", Err: err}
		}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		list = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{list}}, list, nil
	}
	list = root.Content[0]
	if list.Kind != yaml.SequenceNode {
		return nil, nil, &StoreError{Op: "read", Err: fmt.Errorf("%s does not hold a list of automations", s.path)}
	}
	return &root, list, nil
}

func (s *FileStore) write(doc *yaml.Node) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return &StoreError{Op: "encode", Err: err}
	}
	if err := enc.Close(); err != nil {
		return &StoreError{Op: "encode", Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StoreError{Op: "write", Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".automations-*.yaml")
	if err != nil {
		return &StoreError{Op: "write", Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return &StoreError{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StoreError{Op: "write", Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return &StoreError{Op: "write", Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return &StoreError{Op: "write", Err: err}
	}
	return nil
}
