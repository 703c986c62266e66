// ABOUTME: Static and file-backed identity sources
// ABOUTME: FileSource can watch its file with fsnotify so account switches are seen immediately

package identity

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// StaticSource is a settable, thread-safe Source.
type StaticSource struct {
	mu sync.RWMutex
	id AccountID
}

// NewStaticSource creates a source that reports id (empty for none).
func NewStaticSource(id AccountID) *StaticSource {
	return &StaticSource{id: id}
}

// CurrentAccount returns the current value.
func (s *StaticSource) CurrentAccount(context.Context) (AccountID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, nil
}

// Set switches the active account.
func (s *StaticSource) Set(id AccountID) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// Clear reports no account from now on.
func (s *StaticSource) Clear() {
	s.Set("")
}

// FileSource reads the active account from the first non-empty line of a file.
// A missing file means no account.
type FileSource struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	cached   AccountID
	watching bool
	cancel   context.CancelFunc
	done     chan struct{}

	subMu  sync.Mutex
	subs   map[uint64]func(context.Context, AccountID)
	nextID uint64
}

// NewFileSource creates a source over path. Pass nil logger for default.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:   filepath.Clean(path),
		logger: logger.With("component", "identity", "source", "file"),
		subs:   make(map[uint64]func(context.Context, AccountID)),
	}
}

// OnChange registers fn to run when the watcher sees the file name a
// different account. It runs on the watcher goroutine; ctx ends when watching
// stops. Writes made through Write and Clear do not trigger it. Returns a
// function that unregisters fn.
func (s *FileSource) OnChange(fn func(ctx context.Context, id AccountID)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Path returns the file the source reads.
func (s *FileSource) Path() string { return s.path }

// CurrentAccount returns the watched value, or reads the file when not watching.
func (s *FileSource) CurrentAccount(context.Context) (AccountID, error) {
	s.mu.RLock()
	if s.watching {
		id := s.cached
		s.mu.RUnlock()
		return id, nil
	}
	s.mu.RUnlock()

	return s.read()
}

func (s *FileSource) read() (AccountID, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading account file: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return AccountID(line), nil
		}
	}
	return "", scanner.Err()
}

// Write makes id the active account. Parent directories are created if needed.
func (s *FileSource) Write(id AccountID) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating account file directory: %w", err)
	}

	// Write to a temp file and rename so watchers never see a partial file
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(string(id)+"\n"), 0600); err != nil {
		return fmt.Errorf("writing account file: %w", err)
	}

	// The cache moves first so the watcher sees no change for our own write
	prev := s.swapCached(id)
	if err := os.Rename(tmp, s.path); err != nil {
		s.swapCached(prev)
		return fmt.Errorf("replacing account file: %w", err)
	}
	return nil
}

// swapCached sets the watched value and returns the previous one. It does
// nothing when not watching.
func (s *FileSource) swapCached(id AccountID) AccountID {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cached
	if s.watching {
		s.cached = id
	}
	return prev
}

// Clear removes the account file.
func (s *FileSource) Clear() error {
	prev := s.swapCached("")
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.swapCached(prev)
		return fmt.Errorf("removing account file: %w", err)
	}
	return nil
}

// Watch caches the file contents and keeps the cache current until ctx ends
// or Close is called. The parent directory is watched so rename-replaces are
// seen. Watch is a no-op when already watching.
func (s *FileSource) Watch(ctx context.Context) error {
	s.mu.Lock()
	if s.watching {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating account file directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	id, err := s.read()
	if err != nil {
		watcher.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cached = id
	s.watching = true
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.run(ctx, watcher, done)

	s.logger.Debug("watching account file", "path", s.path)
	return nil
}

func (s *FileSource) run(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer watcher.Close()
	defer func() {
		s.mu.Lock()
		s.watching = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			s.reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("account file watcher error", "error", err)
		}
	}
}

func (s *FileSource) reload(ctx context.Context) {
	id, err := s.read()
	if err != nil {
		s.logger.Warn("reloading account file", "error", err)
		return
	}

	s.mu.Lock()
	changed := s.cached != id
	s.cached = id
	s.mu.Unlock()

	if !changed {
		return
	}
	s.logger.Info("active account changed", "account", id)

	s.subMu.Lock()
	fns := make([]func(context.Context, AccountID), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ctx, id)
	}
}

// Close stops watching and waits for the watcher goroutine to exit.
// It is safe to call multiple times.
func (s *FileSource) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
