package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	spoolFile    = "attempt_spool.log"
	replayPrefix = "replay_"
)

var ErrSpoolFull = errors.New("audit spool full")

// Spool is a JSONL file of attempts that could not be written to the DB.
type Spool struct {
	Dir      string
	MaxBytes int64

	mu       sync.Mutex
	replayMu sync.Mutex
}

func NewSpool(dir string, maxMB int64) (*Spool, error) {
	if dir == "" {
		return nil, errors.New("spool dir is required")
	}
	if maxMB <= 0 {
		maxMB = 256
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	return &Spool{Dir: dir, MaxBytes: maxMB * 1024 * 1024}, nil
}

// Append writes one attempt. When the directory is over its size bound the
// oldest leftover replay files are removed first; if that is not enough the
// attempt is refused with ErrSpoolFull.
func (s *Spool) Append(a Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size() >= s.MaxBytes {
		s.pruneReplays()
		if s.size() >= s.MaxBytes {
			return ErrSpoolFull
		}
	}

	line, err := json.Marshal(FailoverAttempt{
		EventID:   a.EventID.String(),
		Payload:   a,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(s.Dir, spoolFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

func (s *Spool) size() int64 {
	var size int64
	_ = filepath.WalkDir(s.Dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}

func (s *Spool) pruneReplays() {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return
	}
	var replays []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), replayPrefix) {
			replays = append(replays, e.Name())
		}
	}
	sort.Strings(replays) // names embed UnixNano, oldest first
	for _, name := range replays {
		if s.size() < s.MaxBytes {
			return
		}
		_ = os.Remove(filepath.Join(s.Dir, name))
	}
}

// StartReplayer replays the spool every interval until ctx is done.
func (s *Service) StartReplayer(ctx context.Context, interval time.Duration) {
	if s.spool == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ReplaySpool(ctx); err != nil {
					s.log.Warn("audit replay failed", "error", err)
				}
			}
		}
	}()
}

// ReplaySpool moves the spool aside and inserts each line. Only committed
// inserts are counted; lines that fail again go back to the spool, and
// event ids make re-inserts harmless.
func (s *Service) ReplaySpool(ctx context.Context) (int, error) {
	s.spool.replayMu.Lock()
	defer s.spool.replayMu.Unlock()

	filename := filepath.Join(s.spool.Dir, spoolFile)
	s.spool.mu.Lock()
	info, err := os.Stat(filename)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.Size() == 0) {
		s.spool.mu.Unlock()
		return 0, nil
	}
	replayFile := filepath.Join(s.spool.Dir, fmt.Sprintf("%s%d.log", replayPrefix, time.Now().UnixNano()))
	err = os.Rename(filename, replayFile)
	s.spool.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("rotate spool for replay: %w", err)
	}

	f, err := os.Open(replayFile)
	if err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(f)
	var succeeded, malformed, respooled int
	var lastErr error
	for scanner.Scan() {
		var fa FailoverAttempt
		if err := json.Unmarshal(scanner.Bytes(), &fa); err != nil {
			malformed++
			continue
		}
		if err := s.insert(ctx, fa.Payload); err != nil {
			lastErr = err
			if spoolErr := s.spool.Append(fa.Payload); spoolErr != nil {
				s.log.Error("audit attempt lost during replay", "event_id", fa.EventID, "error", spoolErr)
				continue
			}
			respooled++
			continue
		}
		succeeded++
	}
	scanErr := scanner.Err()
	f.Close()

	if scanErr != nil {
		// Keep the file; pruneReplays reclaims it if space runs out.
		return succeeded, fmt.Errorf("read replay file: %w", scanErr)
	}
	_ = os.Remove(replayFile)

	if succeeded > 0 || malformed > 0 {
		s.log.Info("audit replay", "flushed", succeeded, "malformed", malformed)
	}
	if respooled > 0 {
		s.log.Warn("audit replay incomplete, database still failing", "respooled", respooled, "error", lastErr)
	}
	return succeeded, nil
}
