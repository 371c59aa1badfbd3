// Package state persists the seen-signature dedup store.
//
// Layout on disk (write-through after every mutation):
//
//	{"seen": {"<office>": {"<dedup-key>": <unix-epoch-seconds>, ...}, ...}}
//
// A missing or unparseable file fails open to an empty store: the tradeoff
// is a possible burst of duplicate notifications after corruption, never a
// refused startup.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dmvwatch/pkg/logx"
)

type fileLayout struct {
	Seen map[string]map[string]float64 `json:"seen"`
}

// Store tracks which (office, dedup key) pairs were already notified.
// Entries expire after the TTL; PurgeExpired removes them from disk.
type Store struct {
	path string
	ttl  time.Duration
	log  logx.Logger

	mu   sync.Mutex
	data fileLayout

	// now is swappable for tests.
	now func() time.Time
}

func Open(path string, ttlHours int, log logx.Logger) *Store {
	if ttlHours < 1 {
		ttlHours = 12
	}
	s := &Store{
		path: path,
		ttl:  time.Duration(ttlHours) * time.Hour,
		log:  log,
		now:  time.Now,
	}
	s.load()
	return s
}

func (s *Store) load() {
	s.data = fileLayout{Seen: map[string]map[string]float64{}}

	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("state file unreadable, starting empty", logx.String("path", s.path), logx.Err(err))
		}
		return
	}
	var loaded fileLayout
	if err := json.Unmarshal(b, &loaded); err != nil || loaded.Seen == nil {
		s.log.Warn("state file corrupt, starting empty", logx.String("path", s.path), logx.Err(err))
		return
	}
	s.data = loaded
}

// WasSeen reports whether an unexpired entry exists for the exact key.
func (s *Store) WasSeen(office, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sigs := s.data.Seen[office]
	if sigs == nil {
		return false
	}
	ts, ok := sigs[key]
	if !ok {
		return false
	}
	age := s.now().Sub(time.Unix(0, int64(ts*float64(time.Second))))
	return age <= s.ttl
}

// MarkSeen upserts the entry with the current timestamp and persists.
func (s *Store) MarkSeen(office, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sigs := s.data.Seen[office]
	if sigs == nil {
		sigs = map[string]float64{}
		s.data.Seen[office] = sigs
	}
	sigs[key] = float64(s.now().UnixNano()) / float64(time.Second)
	return s.saveLocked()
}

// PurgeExpired drops every entry older than the TTL and persists the result
// even when nothing was removed (idempotent).
func (s *Store) PurgeExpired() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for office, sigs := range s.data.Seen {
		for key, ts := range sigs {
			age := now.Sub(time.Unix(0, int64(ts*float64(time.Second))))
			if age > s.ttl {
				delete(sigs, key)
				removed++
			}
		}
		if len(sigs) == 0 {
			delete(s.data.Seen, office)
		}
	}
	if removed > 0 {
		s.log.Debug("purged expired dedup entries", logx.Int("removed", removed))
	}
	return s.saveLocked()
}

// Len reports the number of live entries (for tests and health output).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sigs := range s.data.Seen {
		n += len(sigs)
	}
	return n
}

// saveLocked writes the snapshot atomically (tmp + rename) so a crash
// mid-write never corrupts the previous state.
func (s *Store) saveLocked() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
