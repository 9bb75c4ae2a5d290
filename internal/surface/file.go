// Package surface provides selection surfaces for live translation.
package surface

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/valpere/regiontran/internal"
)

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// File treats a file on disk as the selection: its content is the crop, and
// every completed write is the end of a movement. The parent directory is
// watched so that editors replacing the file by rename are noticed too.
type File struct {
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	mu       sync.Mutex
	handlers map[int]func()
	nextID   int

	closeOnce sync.Once
	done      chan struct{}
}

func NewFile(path string, logger zerolog.Logger) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	// Event names carry the resolved directory.
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(dir, filepath.Base(abs))
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	f := &File{
		path:     abs,
		watcher:  w,
		logger:   logger.With().Str("surface", abs).Logger(),
		handlers: make(map[int]func()),
		done:     make(chan struct{}),
	}
	go f.watch()
	return f, nil
}

func (f *File) ID() string {
	return f.path
}

// CurrentCrop returns nil when the file is missing or empty.
func (f *File) CurrentCrop(ctx context.Context) (*internal.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if mime, ok := imageTypes[strings.ToLower(filepath.Ext(f.path))]; ok {
		if len(data) == 0 {
			return nil, nil
		}
		p := internal.ImagePayload(data, mime)
		return &p, nil
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	p := internal.TextPayload(text)
	return &p, nil
}

func (f *File) OnMovementEnd(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.handlers[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *File) Close() error {
	var err error
	f.closeOnce.Do(func() {
		err = f.watcher.Close()
		<-f.done
	})
	return err
}

func (f *File) watch() {
	defer close(f.done)

	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				f.logger.Debug().Str("op", ev.Op.String()).Msg("selection changed")
				f.notify()
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (f *File) notify() {
	f.mu.Lock()
	handlers := make([]func(), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}
