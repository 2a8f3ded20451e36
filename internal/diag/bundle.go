package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Bundle file names written by WriteBundle.
const (
	FileGetpropAll   = "getprop_all.txt"
	FileGetpropFocus = "getprop_focus.txt"
	FileRadioFull    = "logcat_radio_full.txt"
	FileRadioFocus   = "logcat_radio_focus.txt"
	FileDmesgFull    = "dmesg_full.txt"
	FileDmesgFocus   = "dmesg_modem_focus.txt"
)

// BundleFiles lists every file in a snapshot bundle directory.
var BundleFiles = []string{FileGetpropAll, FileGetpropFocus, FileRadioFull, FileRadioFocus, FileDmesgFull, FileDmesgFocus}

// WriteBundle persists s into dir using the fixed snapshot layout. Fields a
// capture did not collect are written as empty files so the layout is stable.
func WriteBundle(dir string, s *Snapshot) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	contents := map[string]string{
		FileGetpropAll:   s.AllProps,
		FileGetpropFocus: s.FocusText(),
		FileRadioFull:    s.RadioLog,
		FileRadioFocus:   joinLines(s.RadioExcerpt),
		FileDmesgFull:    s.Kernel,
		FileDmesgFocus:   joinLines(s.KernelExcerpt),
	}
	for _, name := range BundleFiles {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(contents[name]), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
