package tasks

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"scrollstitch/internal/fsutil"
)

// Batch is a settled group of new files in one watched directory. Screenshot batches carry
// every new image; each recording is its own batch with Video set.
type Batch struct {
	Dir   string
	Files []string
	Video bool
}

// InboxWatcher monitors directories and hands over a batch once no new file has arrived
// in that directory for the settle delay.
type InboxWatcher struct {
	watcher *fsnotify.Watcher
	dirs    []string
	settle  time.Duration
	submit  func(Batch)
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]map[string]struct{}
	timers  map[string]*time.Timer
	stopped bool
	done    chan struct{}
}

// NewInboxWatcher creates a watcher; call Start to begin delivering batches to submit.
func NewInboxWatcher(dirs []string, settle time.Duration, submit func(Batch), logger *slog.Logger) (*InboxWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &InboxWatcher{
		watcher: watcher,
		dirs:    dirs,
		settle:  settle,
		submit:  submit,
		logger:  logger,
		pending: make(map[string]map[string]struct{}),
		timers:  make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}, nil
}

// Start begins monitoring the configured directories.
func (w *InboxWatcher) Start() error {
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.logger.Info("Watching directory", "dir", dir, "settle", w.settle)
	}
	go w.processEvents()
	return nil
}

// Stop stops the watcher and drops batches that have not settled yet.
func (w *InboxWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	close(w.done)
	return w.watcher.Close()
}

func (w *InboxWatcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.add(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Filesystem watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// add records path and restarts its directory's settle timer.
func (w *InboxWatcher) add(path string) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	if !fsutil.IsImageFile(path) && !fsutil.IsVideoFile(path) {
		return
	}
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	files, ok := w.pending[dir]
	if !ok {
		files = make(map[string]struct{})
		w.pending[dir] = files
	}
	files[path] = struct{}{}

	if t, ok := w.timers[dir]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[dir] = time.AfterFunc(w.settle, func() { w.flush(dir) })
}

// flush submits the settled files of dir. A lone screenshot stays pending until more arrive.
func (w *InboxWatcher) flush(dir string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	delete(w.timers, dir)
	var images, videos []string
	for path := range w.pending[dir] {
		if fsutil.IsVideoFile(path) {
			videos = append(videos, path)
		} else {
			images = append(images, path)
		}
	}
	delete(w.pending, dir)
	if len(images) == 1 {
		w.pending[dir] = map[string]struct{}{images[0]: {}}
		images = nil
	}
	w.mu.Unlock()

	fsutil.SortNatural(images)
	fsutil.SortNatural(videos)
	if len(images) > 0 {
		w.logger.Info("Screenshot batch settled", "dir", dir, "files", len(images))
		w.submit(Batch{Dir: dir, Files: images})
	}
	for _, v := range videos {
		w.logger.Info("Recording settled", "path", v)
		w.submit(Batch{Dir: dir, Files: []string{v}, Video: true})
	}
}
