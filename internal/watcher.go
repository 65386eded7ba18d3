package internal

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventType represents the type of filesystem event
type EventType int

const (
	EventCreate EventType = iota
	EventWrite
	EventDelete
	EventRename
)

// WatchEvent represents a filesystem event we care about
type WatchEvent struct {
	Type EventType
	Path string
}

// Watcher wraps fsnotify with media file filtering. fsnotify is not
// recursive, so directories created under the root are added as they appear.
type Watcher struct {
	watcher *fsnotify.Watcher
	exts    Extensions
	exclude []string
	events  chan *WatchEvent
	errors  chan error
	done    chan struct{}
}

// NewWatcher watches root and every directory below it except those in
// exclude and the report directory.
func NewWatcher(root string, exts Extensions, exclude []string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher: fsWatcher,
		exts:    exts,
		exclude: exclude,
		events:  make(chan *WatchEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	go w.processEvents()

	return w, nil
}

// addRecursive adds a directory and all its subdirectories to the watcher
func (w *Watcher) addRecursive(root string) error {
	return walkTree(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !de.IsDir() {
			return nil
		}
		if w.excluded(path) {
			return fs.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) excluded(path string) bool {
	if filepath.Base(path) == ReportDirName {
		return true
	}
	for _, ex := range w.exclude {
		if IsWithin(path, ex) {
			return true
		}
	}
	return false
}

// processEvents processes raw fsnotify events and filters/converts them
func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) && isDir(event.Name) {
				if w.excluded(event.Name) {
					continue
				}
				if err := w.addRecursive(event.Name); err != nil {
					w.sendError(err)
				}
				// Files copied in together with the directory produce no events.
				w.send(&WatchEvent{Type: EventCreate, Path: event.Name})
				continue
			}

			if _, ok := w.exts.KindOf(event.Name); !ok || w.excluded(filepath.Dir(event.Name)) {
				continue
			}

			watchEvent := &WatchEvent{Path: event.Name}
			switch {
			case event.Has(fsnotify.Create):
				watchEvent.Type = EventCreate
			case event.Has(fsnotify.Write):
				watchEvent.Type = EventWrite
			case event.Has(fsnotify.Remove):
				watchEvent.Type = EventDelete
			case event.Has(fsnotify.Rename):
				watchEvent.Type = EventRename
			default:
				continue
			}
			w.send(watchEvent)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) send(ev *WatchEvent) {
	select {
	case w.events <- ev:
	default:
		// Event channel is full, drop event
	}
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// Events returns the channel of filtered watch events
func (w *Watcher) Events() <-chan *WatchEvent {
	return w.events
}

// Errors returns the channel of watcher errors
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher and cleans up resources
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

// Debounce collects create and write events until nothing new has arrived
// for quiet, then calls fire with the sorted distinct paths. Deletes and
// renames away do not trigger an import. It returns when ctx is done or
// events is closed.
func Debounce(ctx context.Context, events <-chan *WatchEvent, quiet time.Duration, fire func(paths []string)) {
	pending := make(map[string]struct{})
	timer := time.NewTimer(quiet)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		clear(pending)
		fire(paths)
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case ev, ok := <-events:
			if !ok {
				timer.Stop()
				flush()
				return
			}
			if ev.Type != EventCreate && ev.Type != EventWrite {
				continue
			}
			pending[ev.Path] = struct{}{}
			timer.Reset(quiet)
		case <-timer.C:
			flush()
		}
	}
}

func isDir(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.IsDir()
}
