package device

import (
	"context"
	"fmt"
	"strings"
)

// SelectDevice resolves the device to operate on. An explicit serial always
// wins, but it must be online. Without one, exactly one device must be
// connected.
func SelectDevice(ctx context.Context, gw Gateway, explicit string) (string, error) {
	devices, err := gw.ListDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("listing devices: %w", err)
	}

	if explicit != "" {
		for _, d := range devices {
			if d == explicit {
				return explicit, nil
			}
		}
		return "", fmt.Errorf("%w: %s is not online", ErrDeviceUnavailable, explicit)
	}

	switch len(devices) {
	case 0:
		return "", fmt.Errorf("%w: none found", ErrAmbiguousOrNoDevice)
	case 1:
		return devices[0], nil
	default:
		return "", fmt.Errorf("%w: %s (set --device)", ErrAmbiguousOrNoDevice, strings.Join(devices, ", "))
	}
}

// RequireRoot verifies the privileged shell actually runs as uid 0.
func RequireRoot(ctx context.Context, gw Gateway, id string) error {
	res, err := gw.PrivilegedShell(ctx, id, "id -u")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoRoot, err)
	}
	if !res.OK() || strings.TrimSpace(res.Stdout) != "0" {
		return fmt.Errorf("%w: su returned uid %q", ErrNoRoot, strings.TrimSpace(res.Stdout))
	}
	return nil
}

// ShellQuote wraps s in single quotes for the device's sh.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
