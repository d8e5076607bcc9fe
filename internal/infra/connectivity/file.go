package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/vietddude/outbox/internal/core/domain"
)

// ErrStatusFileMissing is returned by Fetch when the status file does not exist.
var ErrStatusFileMissing = errors.New("connectivity status file missing")

// FileSource reads connectivity events from a JSON status file and watches
// it for changes. A host platform bridges OS connectivity APIs by rewriting
// the file.
type FileSource struct {
	hub
	path string
	log  *slog.Logger

	runMu   sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFileSource creates a source for path.
func NewFileSource(path string, log *slog.Logger) *FileSource {
	if log == nil {
		log = slog.Default()
	}
	return &FileSource{path: filepath.Clean(path), log: log}
}

// Start watches the status file's directory so atomic renames are seen.
func (f *FileSource) Start(ctx context.Context) error {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	if f.watcher != nil {
		return nil
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir %s: %w", dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	f.watcher = watcher

	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.loop(ctx, watcher)
	return nil
}

// Stop closes the watcher and waits for the loop to exit.
func (f *FileSource) Stop() error {
	f.runMu.Lock()
	watcher, cancel := f.watcher, f.cancel
	f.watcher, f.cancel = nil, nil
	f.runMu.Unlock()

	if watcher == nil {
		return nil
	}
	cancel()
	err := watcher.Close()
	f.wg.Wait()
	return err
}

// Fetch reads the status file.
func (f *FileSource) Fetch(ctx context.Context) (domain.ConnectivityEvent, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConnectivityEvent{}, err
	}
	return f.read()
}

func (f *FileSource) read() (domain.ConnectivityEvent, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ConnectivityEvent{}, fmt.Errorf("%w: %s", ErrStatusFileMissing, f.path)
		}
		return domain.ConnectivityEvent{}, fmt.Errorf("read status file: %w", err)
	}
	var ev domain.ConnectivityEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.ConnectivityEvent{}, fmt.Errorf("parse status file: %w", err)
	}
	if ev.Type == "" {
		ev.Type = domain.TransportUnknown
		if !ev.IsConnected {
			ev.Type = domain.TransportNone
		}
	}
	return ev, nil
}

func (f *FileSource) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer f.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			ev, err := f.read()
			if err != nil {
				// Partial writes surface as parse errors; the next write event retries.
				f.log.Debug("Skipping unreadable status file", "path", f.path, "error", err)
				continue
			}
			f.publish(ev, true)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.log.Error("fsnotify error", "error", err)
		}
	}
}
