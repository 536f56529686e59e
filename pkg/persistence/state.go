package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// Wi-Fi modes the hardware can be in.
const (
	ModeUnknown = "unknown"
	ModeAP      = "ap"
	ModeSTA     = "sta"
)

// ConnectivityState is what survives a restart: how to reach the unit
// and what went wrong last time.
type ConnectivityState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// StaIP is the unit's station-mode address, once provisioned.
	StaIP string `json:"sta_ip,omitempty"`

	// SSID is the network the unit was provisioned onto.
	SSID string `json:"ssid,omitempty"`

	// Mode is the last known Wi-Fi mode.
	Mode string `json:"mode,omitempty"`

	// LastError is the most recent connection or lock failure.
	LastError string `json:"last_error,omitempty"`

	// WifiCredentials maps SSIDs to passwords for re-provisioning.
	WifiCredentials map[string]string `json:"wifi_credentials,omitempty"`
}

// StateStore manages persistence of connectivity state to a JSON file.
type StateStore struct {
	mu   sync.Mutex
	path string
}

// NewStateStore creates a state store backed by the given file.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Save persists the state to disk.
func (s *StateStore) Save(state *ConnectivityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	state.SavedAt = time.Now()

	// Empty passwords are junk left by aborted provisioning runs.
	for ssid, password := range state.WifiCredentials {
		if ssid == "" || password == "" {
			delete(state.WifiCredentials, ssid)
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0600)
}

// Load reads the state from disk. A missing or unreadable file yields a
// fresh state rather than an error; persistence is advisory.
func (s *StateStore) Load() *ConnectivityState {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := &ConnectivityState{Mode: ModeUnknown, WifiCredentials: make(map[string]string)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fresh
	}

	state := &ConnectivityState{}
	if err := json.Unmarshal(data, state); err != nil {
		return fresh
	}
	if state.Mode == "" {
		state.Mode = ModeUnknown
	}
	if state.WifiCredentials == nil {
		state.WifiCredentials = make(map[string]string)
	}
	return state
}

// RecordProvisioned saves a successful provisioning result.
func (s *StateStore) RecordProvisioned(ssid, password, staIP string) error {
	state := s.Load()
	state.StaIP = staIP
	state.SSID = ssid
	state.Mode = ModeSTA
	state.LastError = ""
	state.WifiCredentials[ssid] = password
	return s.Save(state)
}

// RecordError saves a diagnostic message without touching the rest of
// the state.
func (s *StateStore) RecordError(message string) error {
	state := s.Load()
	state.LastError = message
	return s.Save(state)
}

// Clear removes the state file.
func (s *StateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
