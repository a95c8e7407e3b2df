// Package recording persists labeled trial rows as CSV files under a
// per-participant results directory.
package recording

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rbright/griprig/internal/metrics"
)

const (
	// MinParticipant and MaxParticipant bound accepted participant IDs.
	MinParticipant = 1
	MaxParticipant = 100
)

var (
	// ErrParticipantExists reports an existing participant directory opened without force.
	ErrParticipantExists = errors.New("recording: participant directory already exists")
	// ErrNoParticipant reports an append before a participant directory was opened.
	ErrNoParticipant = errors.New("recording: no participant selected")
	// ErrInvalidParticipant reports an ID outside [MinParticipant, MaxParticipant].
	ErrInvalidParticipant = errors.New("recording: invalid participant id")
)

// Store appends rows to <root>/PID<id>/<key>.csv.
type Store struct {
	root   string
	logger *slog.Logger

	mu  sync.Mutex
	dir string
}

// NewStore creates a store rooted at resultsDir. Nothing is created until a
// participant is opened.
func NewStore(resultsDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{root: resultsDir, logger: logger.With("component", "recording")}
}

// ParticipantDir returns the directory name for id.
func ParticipantDir(id int) string {
	return "PID" + strconv.Itoa(id)
}

// Open selects the participant directory, creating it when missing. An
// existing directory is reused only when force is set.
func (s *Store) Open(id int, force bool) (string, error) {
	if id < MinParticipant || id > MaxParticipant {
		return "", fmt.Errorf("%w: %d (want %d-%d)", ErrInvalidParticipant, id, MinParticipant, MaxParticipant)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}

	dir := filepath.Join(s.root, ParticipantDir(id))
	err := os.Mkdir(dir, 0o755)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrExist):
		if !force {
			return "", fmt.Errorf("%w: %s", ErrParticipantExists, dir)
		}
		s.logger.Warn("reusing existing participant directory", "dir", dir)
	default:
		return "", fmt.Errorf("create participant dir: %w", err)
	}

	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()
	s.logger.Info("participant selected", "dir", dir)
	return dir, nil
}

// Dir returns the current participant directory, or "" when none is open.
func (s *Store) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// Path returns the file a key appends to.
func (s *Store) Path(key string) (string, error) {
	dir := s.Dir()
	if dir == "" {
		return "", ErrNoParticipant
	}
	return filepath.Join(dir, key+".csv"), nil
}

// AppendRows appends rows to the file selected by key. Existing content is
// never truncated.
func (s *Store) AppendRows(key string, rows [][]string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	metrics.RecordRows(key, len(rows))
	return nil
}
