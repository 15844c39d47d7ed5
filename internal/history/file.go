package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"aquarig/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl    (append-only JSON Lines)
//   - <prefix>.samples.jsonl (append-only JSON Lines)
//
// Recent runs are additionally kept in a bounded in-memory ring so
// RecentRuns never has to re-read the log.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsFile    *os.File
	samplesFile *os.File

	// ring of the most recent runs, oldest first
	recent    []RunEntry
	recentCap int
}

const recentRunsCap = 500

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	samplesPath := prefix + ".samples.jsonl"

	// Warm the ring from the existing log so restarts keep serving history.
	recent := loadRecentRuns(runsPath, recentRunsCap)

	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	sf, err := os.OpenFile(samplesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	return &fileStore{
		log:         log,
		runsFile:    rf,
		samplesFile: sf,
		recent:      recent,
		recentCap:   recentRunsCap,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.runsFile != nil {
		err1 = s.runsFile.Close()
		s.runsFile = nil
	}
	if s.samplesFile != nil {
		err2 = s.samplesFile.Close()
		s.samplesFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendRun(ctx context.Context, e RunEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("runs file closed")
	}
	if err := json.NewEncoder(s.runsFile).Encode(e); err != nil {
		return err
	}
	s.recent = append(s.recent, e)
	if len(s.recent) > s.recentCap {
		s.recent = s.recent[len(s.recent)-s.recentCap:]
	}
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	// newest first
	out := make([]RunEntry, 0, limit)
	for i := len(s.recent) - 1; i >= len(s.recent)-limit; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

func (s *fileStore) AppendSample(ctx context.Context, e SampleEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samplesFile == nil {
		return errors.New("samples file closed")
	}
	return json.NewEncoder(s.samplesFile).Encode(e)
}

func loadRecentRuns(path string, max int) []RunEntry {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []RunEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e RunEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
		if len(out) > max {
			out = out[len(out)-max:]
		}
	}
	return out
}
