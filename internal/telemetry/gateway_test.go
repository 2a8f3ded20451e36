package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/nvguard/internal/device"
	"github.com/steveyegge/nvguard/internal/testutil/fakegw"
)

func TestWrapGatewayDisabledIsIdentity(t *testing.T) {
	t.Setenv("NVG_OTEL_ENABLED", "")
	gw := fakegw.New("SER1")
	assert.Same(t, gw, WrapGateway(gw))
}

func TestInstrumentedGatewayDelegates(t *testing.T) {
	require.NoError(t, Init(context.Background(), "nvg-test", "dev"))
	gw := fakegw.New("SER1")
	gw.Props["gsm.sim.state"] = "LOADED"
	gw.Streams["dd if="] = []byte("image")
	gw.AddRule("false", device.Result{ExitCode: 1}, nil)

	ig := newInstrumentedGateway(gw)
	ctx := context.Background()

	ids, err := ig.ListDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"SER1"}, ids)

	res, err := ig.Shell(ctx, "SER1", "getprop gsm.sim.state")
	require.NoError(t, err)
	assert.Equal(t, "LOADED\n", res.Stdout)

	res, err = ig.PrivilegedShell(ctx, "SER1", "false")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)

	var buf bytes.Buffer
	require.NoError(t, ig.ExecOut(ctx, "SER1", "dd if=/dev/block/by-name/md1img", &buf))
	assert.Equal(t, "image", buf.String())

	require.NoError(t, ig.Reboot(ctx, "SER1"))
	require.NoError(t, ig.WaitOnline(ctx, "SER1"))

	assert.Equal(t, 1, gw.Count("shell"))
	assert.Equal(t, 1, gw.Count("su"))
	assert.Equal(t, 1, gw.Count("reboot"))
}
