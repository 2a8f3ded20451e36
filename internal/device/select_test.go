package device_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/nvguard/internal/device"
	"github.com/steveyegge/nvguard/internal/testutil/fakegw"
)

func TestSelectDevice(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		devices  []string
		explicit string
		want     string
		wantErr  error
	}{
		{"single device", []string{"A"}, "", "A", nil},
		{"no device", nil, "", "", device.ErrAmbiguousOrNoDevice},
		{"two devices", []string{"A", "B"}, "", "", device.ErrAmbiguousOrNoDevice},
		{"explicit among many", []string{"A", "B"}, "B", "B", nil},
		{"explicit offline", []string{"A"}, "Z", "", device.ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := fakegw.New("unused")
			gw.Devices = tt.devices
			got, err := device.SelectDevice(ctx, gw, tt.explicit)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectDeviceListError(t *testing.T) {
	gw := fakegw.New("A")
	gw.ListErr = errors.New("adb server down")
	_, err := device.SelectDevice(context.Background(), gw, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adb server down")
}

func TestRequireRoot(t *testing.T) {
	ctx := context.Background()

	gw := fakegw.New("A")
	require.NoError(t, device.RequireRoot(ctx, gw, "A"))

	gw.Root = false
	require.ErrorIs(t, device.RequireRoot(ctx, gw, "A"), device.ErrNoRoot)

	gw = fakegw.New("A")
	gw.AddRule("id -u", device.Result{}, device.ErrDeviceUnavailable)
	require.ErrorIs(t, device.RequireRoot(ctx, gw, "A"), device.ErrNoRoot)
}

func TestCommandErrorUnwrap(t *testing.T) {
	err := &device.CommandError{Device: "A", Command: "mv x y", ExitCode: 1, Stderr: "no such file\n"}
	assert.True(t, errors.Is(err, device.ErrCommandFailed))
	assert.Equal(t, `A: "mv x y" exited 1: no such file`, err.Error())
}

func TestMustSucceed(t *testing.T) {
	_, err := device.MustSucceed("A", "true", device.Result{}, nil)
	require.NoError(t, err)

	_, err = device.MustSucceed("A", "false", device.Result{ExitCode: 1}, nil)
	require.ErrorIs(t, err, device.ErrCommandFailed)
}
