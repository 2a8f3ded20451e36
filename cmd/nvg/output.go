package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/steveyegge/nvguard/internal/device"
	"github.com/steveyegge/nvguard/internal/diag"
	"github.com/steveyegge/nvguard/internal/lockfile"
	"github.com/steveyegge/nvguard/internal/telemetry"
)

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		FatalError("encoding JSON: %v", err)
	}
}

// outputJSONLine writes v as one compact JSON line, for streams.
func outputJSONLine(v interface{}) {
	if err := json.NewEncoder(os.Stdout).Encode(v); err != nil {
		WarnError("encoding JSON: %v", err)
	}
}

// newGateway returns the adb gateway, traced when telemetry is on.
func newGateway() device.Gateway {
	return telemetry.WrapGateway(device.NewADB(cfg.ADB, log))
}

func newCapturer(gw device.Gateway) *diag.Capturer {
	return diag.NewCapturer(gw, cfg.RadioWindow, log)
}

// selectDevice resolves --device or the single attached device.
func selectDevice(ctx context.Context, gw device.Gateway) (string, error) {
	return device.SelectDevice(ctx, gw, cfg.Device)
}

// lockDevice takes the per-device run lock for a mutating command. Locks
// live in the system temp dir so runs from different work dirs still
// exclude each other.
func lockDevice(serial, command string) (*lockfile.Lock, error) {
	return lockfile.Acquire(filepath.Join(os.TempDir(), "nvguard"), serial, command)
}

func releaseLock(l *lockfile.Lock) {
	if err := l.Release(); err != nil {
		WarnError("releasing device lock: %v", err)
	}
}
