package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/nvguard/internal/diag"
)

// StampLayout formats session ids and isolation suffixes.
const StampLayout = "20060102-150405"

// SessionFile is the audit record written into the work directory.
const SessionFile = "session.json"

// Transition records one edge taken by a session.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Warning is a degraded step that did not stop the run.
type Warning struct {
	State   State  `json:"state"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

// IsolatedDir is a live NV directory moved aside during isolation.
type IsolatedDir struct {
	Original string `json:"original"`
	Renamed  string `json:"renamed"`
}

// Session is the unit of work of one recovery run. It exclusively owns
// WorkDir and everything under it.
type Session struct {
	ID      string `json:"id"`
	Device  string `json:"device"`
	WorkDir string `json:"work_dir"`
	State   State  `json:"state"`
	Rule    string `json:"rule,omitempty"`

	Pre      *diag.Snapshot `json:"pre,omitempty"`
	Post     *diag.Snapshot `json:"post,omitempty"`
	LastPoll *diag.Snapshot `json:"last_poll,omitempty"`

	BackupArchives   []string      `json:"backup_archives"`
	IsolationStamp   string        `json:"isolation_stamp,omitempty"`
	Isolated         []IsolatedDir `json:"isolated,omitempty"`
	PollAttempts     int           `json:"poll_attempts"`
	KnownGoodArchive []string      `json:"known_good_archives,omitempty"`
	Rollback         []string      `json:"rollback,omitempty"`

	Transitions []Transition `json:"transitions"`
	Warnings    []Warning    `json:"warnings,omitempty"`
	Error       string       `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// newSession allocates a session whose id and directory derive from now.
func newSession(workRoot string, now time.Time) *Session {
	id := now.Format(StampLayout)
	return &Session{
		ID:             id,
		WorkDir:        filepath.Join(workRoot, "repair-"+id),
		State:          StateInit,
		BackupArchives: []string{},
		StartedAt:      now,
	}
}

// Terminal reports whether the session has finished.
func (s *Session) Terminal() bool {
	return s.State.Terminal()
}

// Save writes the session record as JSON into its work directory.
func (s *Session) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	path := filepath.Join(s.WorkDir, SessionFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// LoadSession reads a session record written by Save.
func LoadSession(workDir string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(workDir, SessionFile)) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &s, nil
}
