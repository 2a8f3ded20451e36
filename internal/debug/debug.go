package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventsFile is the per-session event log written next to session.json.
const EventsFile = "events.log"

var (
	enabled     = os.Getenv("NVG_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex
	now         = time.Now
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// Format selects the logrus formatter.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// NewLogger builds the process logger. Verbose wins over quiet; quiet keeps
// warnings and errors only.
func NewLogger(w io.Writer, format Format) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	switch format {
	case FormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	}
	switch {
	case Enabled():
		log.SetLevel(logrus.DebugLevel)
	case quietMode:
		log.SetLevel(logrus.WarnLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
// Use this for normal informational output that should be suppressed in quiet mode
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// PrintlnNormal prints a line unless quiet mode is enabled
func PrintlnNormal(args ...interface{}) {
	if !quietMode {
		fmt.Println(args...)
	}
}

// LogEvent appends one line to <dir>/events.log.
// Format: TIMESTAMP|EVENT_CODE|SESSION_ID|DEVICE|DETAILS
//
// Failures are silent: the event log never interrupts a repair.
func LogEvent(dir, eventCode, sessionID, device, details string) {
	if dir == "" {
		return
	}
	if sessionID == "" {
		sessionID = "none"
	}
	if device == "" {
		device = "none"
	}

	entry := fmt.Sprintf("%s|%s|%s|%s|%s\n",
		now().UTC().Format(time.RFC3339), eventCode, sessionID, device, details)

	logMutex.Lock()
	defer logMutex.Unlock()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return
	}
	file, err := os.OpenFile(filepath.Join(dir, EventsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // session work dir
	if err != nil {
		return
	}
	defer file.Close()

	_, _ = file.WriteString(entry)
}
