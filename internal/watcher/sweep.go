package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kbwatch/internal/ledger"
)

// DefaultSweepInterval is how often the periodic detector re-reads the
// watched paths.
const DefaultSweepInterval = 5 * time.Minute

// Sweep is the periodic pull detector. Every interval it re-reads all
// watched paths and submits a candidate per file; the coordinator's
// no-op suppression discards the unchanged ones.
type Sweep struct {
	submitter Submitter
	logger    ledger.Logger
	clock     ledger.Clock
	roots     []string
	interval  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSweep creates a periodic detector. A non-positive interval falls
// back to DefaultSweepInterval.
func NewSweep(roots []string, interval time.Duration, submitter Submitter, logger ledger.Logger, clock ledger.Clock) *Sweep {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweep{
		submitter: submitter,
		logger:    logger,
		clock:     clock,
		roots:     roots,
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the sweep loop. An initial scan runs immediately so a
// fresh monitor captures pre-existing content without waiting a full
// interval.
func (s *Sweep) Start() {
	go s.run()
	s.logger.Info("sweep detector started", "interval", s.interval)
}

// Stop halts the detector. Idempotent.
func (s *Sweep) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

func (s *Sweep) run() {
	defer close(s.done)

	s.scan()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scan()
		case <-s.stop:
			return
		}
	}
}

// scan re-reads every watched path once.
func (s *Sweep) scan() {
	for _, root := range s.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			s.logger.Warn("resolving sweep root", "root", root, "error", err)
			continue
		}

		info, err := os.Stat(abs)
		if err != nil {
			s.logger.Warn("stat sweep root", "root", abs, "error", err)
			continue
		}

		if !info.IsDir() {
			s.submitFile(abs)
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.logger.Warn("walking sweep root", "path", path, "error", err)
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			s.submitFile(path)
			return nil
		})
		if err != nil {
			s.logger.Warn("sweeping directory", "root", abs, "error", err)
		}
	}
}

func (s *Sweep) submitFile(path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("dropping candidate, content unavailable",
			"path", path, "error", err)
		return
	}

	cand := ledger.Candidate{
		Path:       path,
		Content:    string(content),
		Source:     SourceSweep,
		ObservedAt: s.clock.Now(),
	}
	if err := s.submitter.Submit(cand); err != nil {
		s.logger.Warn("submitting candidate", "path", path, "error", err)
	}
}
