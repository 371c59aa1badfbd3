// Package subscriptions persists the email -> offices mapping.
//
// Layout on disk: {"<email>": ["<office>", ...], ...}
// Write-through on every mutation; load fails open to empty.
package subscriptions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"dmvwatch/pkg/logx"
)

type Store struct {
	path string
	log  logx.Logger

	mu   sync.RWMutex
	data map[string][]string
}

func Open(path string, log logx.Logger) *Store {
	s := &Store{path: path, log: log, data: map[string][]string{}}
	s.load()
	return s
}

func (s *Store) load() {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("subscriptions file unreadable, starting empty", logx.String("path", s.path), logx.Err(err))
		}
		return
	}
	var loaded map[string][]string
	if err := json.Unmarshal(b, &loaded); err != nil || loaded == nil {
		s.log.Warn("subscriptions file corrupt, starting empty", logx.String("path", s.path), logx.Err(err))
		return
	}
	s.data = loaded
}

// Set stores a deduplicated, sorted office set for the email, fully
// replacing any prior set (not a merge).
func (s *Store) Set(email string, offices []string) error {
	uniq := map[string]bool{}
	for _, o := range offices {
		uniq[o] = true
	}
	set := make([]string, 0, len(uniq))
	for o := range uniq {
		set = append(set, o)
	}
	sort.Strings(set)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[email] = set
	return s.saveLocked()
}

// Remove deletes the entry if present (no-op otherwise).
func (s *Store) Remove(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[email]; !ok {
		return nil
	}
	delete(s.data, email)
	return s.saveLocked()
}

// Emails lists subscriber addresses, sorted.
func (s *Store) Emails() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for email := range s.data {
		out = append(out, email)
	}
	sort.Strings(out)
	return out
}

// OfficesFor returns the offices the email follows (nil when unknown).
func (s *Store) OfficesFor(email string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.data[email]...)
}

// EmailsFor returns every subscriber following the named office.
// This is the accessor the scheduler uses for email fan-out.
func (s *Store) EmailsFor(office string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for email, offices := range s.data {
		for _, o := range offices {
			if o == office {
				out = append(out, email)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of the full mapping (admin listing).
func (s *Store) Snapshot() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.data))
	for email, offices := range s.data {
		out[email] = append([]string(nil), offices...)
	}
	return out
}

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
