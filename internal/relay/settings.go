package relay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Settings is the flat string-keyed preference store consumed by the
// transcoder. Values may be edited on disk while the relay runs; Current
// re-reads them so every request sees the live values.
type Settings struct {
	Instructions       string `json:"instructions"`
	Context            string `json:"context"`
	Mode               string `json:"mode"`
	MaxInstructionSize int    `json:"max_instruction_size"`
	HardLimit          int    `json:"hard_limit"`
}

const (
	defaultMaxInstructionSize = 8000
	defaultHardLimit          = 36000
)

// injectionMarker opens the composed payload and doubles as the
// duplicate-injection fingerprint inside an already-rewritten field.
const injectionMarker = "[SYSTEM INSTRUCTION:"

func (s Settings) withDefaults() Settings {
	if s.MaxInstructionSize <= 0 {
		s.MaxInstructionSize = defaultMaxInstructionSize
	}
	if s.HardLimit <= 0 {
		s.HardLimit = defaultHardLimit
	}
	return s
}

// Payload composes the text prepended to the user's message.
func (s Settings) Payload() string {
	return injectionMarker + s.Instructions + "]\n[MEMORY / CONTEXT:" + s.Context + "]\n\n[USER MESSAGE]:\n"
}

type settingsStore struct {
	path string

	mu     sync.Mutex
	cur    Settings
	mod    time.Time
	loaded bool
}

func newSettingsStore(path string) *settingsStore {
	return &settingsStore{path: path}
}

// Current returns the live settings, re-reading the file when its mtime
// changed since the last call.
func (s *settingsStore) Current() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return s.cur.withDefaults()
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return s.cur.withDefaults()
	}
	if s.loaded && info.ModTime().Equal(s.mod) {
		return s.cur.withDefaults()
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.cur.withDefaults()
	}
	var st Settings
	if err := json.Unmarshal(data, &st); err != nil {
		return s.cur.withDefaults()
	}
	s.cur = st
	s.mod = info.ModTime()
	s.loaded = true
	return s.cur.withDefaults()
}

// Update persists new settings with an atomic rename and refreshes the cache.
func (s *settingsStore) Update(st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st = st.withDefaults()
	if s.path == "" {
		s.cur = st
		return nil
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.cur = st
	if info, err := os.Stat(s.path); err == nil {
		s.mod = info.ModTime()
	}
	s.loaded = true
	return nil
}
