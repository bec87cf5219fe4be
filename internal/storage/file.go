package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

// fileStore keeps everything in memory and persists it as:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal since the snapshot)
type fileStore struct {
	log logx.Logger

	mu      sync.Mutex
	data    map[string]record
	snap    string
	journal *os.File
	writes  int
	compact int
}

type journalEntry struct {
	Key   string `json:"k"`
	Val   []byte `json:"v,omitempty"`
	Until int64  `json:"until,omitempty"`
	Del   bool   `json:"del,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	data := map[string]record{}
	if err := loadSnapshot(snapPath, data); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("cache snapshot unreadable, starting empty", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, data); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("cache journal replay failed", logx.String("path", journalPath), logx.Err(err))
	}
	pruneExpired(data, time.Now().UnixMilli())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s := &fileStore{log: log, data: data, snap: snapPath, journal: jf, compact: 1000}
	log.Debug("file cache opened", logx.String("prefix", prefix), logx.Int("keys", len(data)))
	return s, nil
}

func (s *fileStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *fileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, false, ErrClosed
	}
	r, ok := s.data[key]
	if !ok || r.expired(time.Now().UnixMilli()) {
		return nil, false, nil
	}
	return slices.Clone(r.Val), true, nil
}

func (s *fileStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	rec := record{Val: slices.Clone(val), Until: untilMS(time.Now(), ttl)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	s.data[key] = rec
	return s.appendLocked(journalEntry{Key: key, Val: rec.Val, Until: rec.Until})
}

func (s *fileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.appendLocked(journalEntry{Key: key, Del: true})
}

func (s *fileStore) appendLocked(e journalEntry) error {
	if err := json.NewEncoder(s.journal).Encode(e); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compact == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("cache compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	if cerr != nil {
		return cerr
	}
	return err
}

func (s *fileStore) compactLocked() error {
	pruneExpired(s.data, time.Now().UnixMilli())

	tmp := s.snap + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snap); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out map[string]record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]record
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Key == "" {
			continue
		}
		if e.Del {
			delete(out, e.Key)
			continue
		}
		out[e.Key] = record{Val: e.Val, Until: e.Until}
	}
	return sc.Err()
}

func pruneExpired(m map[string]record, nowMS int64) {
	for k, r := range m {
		if r.expired(nowMS) {
			delete(m, k)
		}
	}
}
