// Package file provides file-based persistence implementation for onboarding workflows and runs.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/onboardflow/pkg/persistence"
)

const (
	workflowsDir = "workflows"
	versionsDir  = "versions"
	runsDir      = "runs"
	nodeRunsDir  = "node_runs"
)

// Persistence implements the persistence.Persistence interface using the file system.
// Each workflow (with its versions) and each run (with its node runs) is one JSON document,
// replaced atomically on every write.
type Persistence struct {
	store        *store
	workflowRepo *WorkflowRepository
	versionRepo  *VersionRepository
	runRepo      *RunRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	s := &store{root: strings.Replace(root, "file://", "", 1)}

	return &Persistence{
		store:        s,
		workflowRepo: &WorkflowRepository{store: s},
		versionRepo:  &VersionRepository{store: s},
		runRepo:      &RunRepository{store: s},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory is writable.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(fp.store.root, 0750); err != nil {
		return fmt.Errorf("persistence root is not writable: %w", err)
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) VersionRepository() persistence.VersionRepository {
	return fp.versionRepo
}

func (fp *Persistence) RunRepository() persistence.RunRepository {
	return fp.runRepo
}

// store serializes every read-modify-write on the root directory. Index entries
// (version -> workflow, node run -> run) are written before the document that holds them.
type store struct {
	root string
	mu   sync.Mutex
}

func (s *store) path(dir, id string) string {
	return filepath.Join(s.root, dir, id+".json")
}

// read decodes the document into target. It returns fs.ErrNotExist when the document is missing.
func (s *store) read(dir, id string, target any) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fs.ErrNotExist
	}

	data, err := os.ReadFile(s.path(dir, id))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: failed to decode %s/%s: %w", persistence.ErrCorruptDocument, dir, id, err)
	}

	return nil
}

// write replaces the document atomically through a temporary file and a rename.
func (s *store) write(dir, id string, value any) error {
	if err := os.MkdirAll(filepath.Join(s.root, dir), 0750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, id, err)
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, dir), ".tmp-"+id+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to write %s/%s: %w", dir, id, err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to sync %s/%s: %w", dir, id, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s/%s: %w", dir, id, err)
	}

	if err := os.Rename(tmp.Name(), s.path(dir, id)); err != nil {
		return fmt.Errorf("failed to replace %s/%s: %w", dir, id, err)
	}

	return nil
}

// ids lists the document ids stored in dir.
func (s *store) ids(dir string) ([]string, error) {
	matches, err := fs.Glob(os.DirFS(s.root), dir+"/*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(match), ".json"))
	}

	return ids, nil
}

type indexEntry struct {
	Parent string `json:"parent"`
}

func (s *store) readIndex(dir, id string) (string, error) {
	var entry indexEntry
	if err := s.read(dir, id, &entry); err != nil {
		return "", err
	}

	return entry.Parent, nil
}

func (s *store) writeIndex(dir, id, parent string) error {
	return s.write(dir, id, indexEntry{Parent: parent})
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
