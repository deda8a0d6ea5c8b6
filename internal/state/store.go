package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sdlc-agency/agency/internal/debug"
	"github.com/sdlc-agency/agency/internal/lockfile"
	"github.com/sdlc-agency/agency/internal/types"
	"github.com/sdlc-agency/agency/internal/utils"
)

// DefaultMaxIterations is the gate iteration limit written to new gates.
const DefaultMaxIterations = 3

// Store reads and writes one STATE.json file. Reads are lock-free: writes
// go through a temp file and rename, so a reader always sees a whole
// document. Every read-modify-write holds an exclusive advisory lock on a
// sidecar lock file so concurrent writers cannot lose each other's updates.
type Store struct {
	path          string
	lockTimeout   time.Duration
	maxIterations int
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long a writer waits for the lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithMaxIterations sets max_iterations for gates created from now on.
func WithMaxIterations(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// NewStore returns a store for the STATE.json at path (made absolute).
func NewStore(path string, opts ...Option) *Store {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	s := &Store{
		path:          abs,
		lockTimeout:   lockfile.DefaultTimeout,
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the absolute STATE.json path.
func (s *Store) Path() string { return s.path }

// Load reads and decodes the document. A missing file is NotFound; an
// undecodable one (including one missing a canonical phase) is a ParseError.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path) // #nosec G304 - path chosen by the caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.NotFoundf("State file not found: %s", s.path)
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.ParseErrorf("State file %s is not valid: %v", s.path, err)
	}
	if doc.Phases == nil {
		return nil, types.ParseErrorf("State file %s is not valid: missing phases", s.path)
	}
	doc.normalize()
	return &doc, nil
}

func (s *Store) save(doc *Document) error {
	doc.UpdatedAt = timeNow()
	if err := utils.WriteJSONAtomic(s.path, doc); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// mutate runs fn against the freshly loaded document while holding the
// lock and persists the result if fn succeeds. fn must validate its input
// before touching doc; nothing is written when it returns an error.
func (s *Store) mutate(ctx context.Context, fn func(doc *Document, now time.Time) error) (*Document, error) {
	lock, err := lockfile.Acquire(ctx, s.path, s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			debug.Logf("state: release lock: %v\n", rerr)
		}
	}()

	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	if err := fn(doc, timeNow()); err != nil {
		return nil, err
	}
	if err := s.save(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// InitResult is returned by Init.
type InitResult struct {
	Status       string    `json:"status"`
	StatePath    string    `json:"state_path"`
	Project      string    `json:"project"`
	Objective    string    `json:"objective"`
	InitialState *Document `json:"initial_state"`
}

// Init creates a new STATE.json with all phases pending. It fails with
// AlreadyExists if the file is present.
func (s *Store) Init(ctx context.Context, project, objective string) (*InitResult, error) {
	lock, err := lockfile.Acquire(ctx, s.path, s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	if _, err := os.Stat(s.path); err == nil {
		return nil, types.AlreadyExistsf("State file already exists: %s", s.path)
	}

	doc := newDocument(project, objective, timeNow())
	if err := s.save(doc); err != nil {
		return nil, err
	}
	debug.Logf("state: initialized %s for project %q\n", s.path, project)
	return &InitResult{
		Status:       "created",
		StatePath:    s.path,
		Project:      project,
		Objective:    objective,
		InitialState: doc,
	}, nil
}
