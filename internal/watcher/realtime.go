// Package watcher provides the two change detectors feeding the
// coordinator: an event-driven realtime watcher and a periodic sweep.
// Detectors only observe and submit candidates; deduplication, debounce,
// and version creation belong to the coordinator.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"kbwatch/internal/ledger"
	"kbwatch/internal/model"
)

// Detector source labels recorded on semantic entries.
const (
	SourceRealtime = "realtime"
	SourceSweep    = "sweep"
)

// Submitter is the slice of the coordinator the detectors need.
type Submitter interface {
	Submit(cand ledger.Candidate) error
}

// Realtime submits candidates on filesystem change notifications.
// Watch roots may be files or directories; file roots are watched via
// their parent directory, as fsnotify recommends.
type Realtime struct {
	submitter Submitter
	logger    ledger.Logger
	clock     ledger.Clock
	roots     []string

	fsw      *fsnotify.Watcher
	dirRoots []string
	files    map[string]bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewRealtime creates a realtime detector for the given watch roots.
func NewRealtime(roots []string, submitter Submitter, logger ledger.Logger, clock ledger.Clock) *Realtime {
	return &Realtime{
		submitter: submitter,
		logger:    logger,
		clock:     clock,
		roots:     roots,
		files:     make(map[string]bool),
		done:      make(chan struct{}),
	}
}

// Start registers the watch roots and launches the event loop.
func (r *Realtime) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}

	for _, root := range r.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			fsw.Close()
			return fmt.Errorf("resolving watch root %s: %w", root, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			fsw.Close()
			return fmt.Errorf("stat watch root %s: %w", abs, err)
		}

		if info.IsDir() {
			if err := fsw.Add(abs); err != nil {
				fsw.Close()
				return fmt.Errorf("watching directory %s: %w", abs, err)
			}
			r.dirRoots = append(r.dirRoots, abs)
			continue
		}

		if err := fsw.Add(filepath.Dir(abs)); err != nil {
			fsw.Close()
			return fmt.Errorf("watching parent of %s: %w", abs, err)
		}
		r.files[abs] = true
	}

	r.fsw = fsw
	go r.run()
	r.logger.Info("realtime detector started", "roots", len(r.roots))
	return nil
}

// Stop halts the detector. Idempotent.
func (r *Realtime) Stop() {
	r.stopOnce.Do(func() {
		if r.fsw != nil {
			r.fsw.Close()
		}
	})
	if r.fsw != nil {
		<-r.done
	}
}

func (r *Realtime) run() {
	defer close(r.done)

	for {
		select {
		case ev, ok := <-r.fsw.Events:
			if !ok {
				return
			}
			r.handle(ev)
		case err, ok := <-r.fsw.Errors:
			if !ok {
				return
			}
			r.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

func (r *Realtime) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !r.relevant(path) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		r.submit(ledger.Candidate{
			Path:       path,
			Type:       model.ChangeDeleted,
			Source:     SourceRealtime,
			ObservedAt: r.clock.Now(),
		})

	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		content, err := os.ReadFile(path)
		if err != nil {
			// Content unavailable: drop the candidate; the detector will
			// see the next change, and the sweep re-reads on schedule.
			r.logger.Warn("dropping candidate, content unavailable",
				"path", path, "error", fmt.Errorf("%w: %w", ledger.ErrContentUnavailable, err))
			return
		}
		r.submit(ledger.Candidate{
			Path:       path,
			Content:    string(content),
			Source:     SourceRealtime,
			ObservedAt: r.clock.Now(),
		})
	}
}

func (r *Realtime) submit(cand ledger.Candidate) {
	if err := r.submitter.Submit(cand); err != nil {
		r.logger.Warn("submitting candidate", "path", cand.Path, "error", err)
	}
}

// relevant filters parent-directory noise: an event matters when its
// path is an explicitly watched file or sits under a watched directory.
func (r *Realtime) relevant(path string) bool {
	if r.files[path] {
		return true
	}
	for _, root := range r.dirRoots {
		if path == root {
			return false // the directory itself, not a file in it
		}
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
