package monitor

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/steveyegge/nvguard/internal/anomaly"
)

// RuleLoader re-reads the monitor rule from configuration.
type RuleLoader func() (anomaly.MonitorRule, error)

const reloadDebounce = 300 * time.Millisecond

// WatchRule reloads the rule whenever the config file at path changes, until
// ctx is done. The parent directory is watched because editors usually
// replace files rather than write them in place. A failed reload keeps the
// previous rule.
func (m *Monitor) WatchRule(ctx context.Context, path string, load RuleLoader) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	base := filepath.Base(path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	reload := func() {
		rule, err := load()
		if err != nil {
			m.Log.WithError(err).Warn("config reload failed, keeping previous thresholds")
			return
		}
		m.SetRule(rule)
		m.Log.WithFields(logrus.Fields{
			"rna_threshold": rule.RNAThreshold,
			"sim_pattern":   rule.SIMPattern.String(),
		}).Info("monitor thresholds reloaded")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.Log.WithError(err).Warn("config watcher error")
		}
	}
}
