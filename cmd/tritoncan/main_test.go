package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evm100/TritonCAN/bridge"
	"github.com/evm100/TritonCAN/channel"
	"github.com/evm100/TritonCAN/config"
)

const testDBC = `VERSION ""

NS_ :

BS_:

BU_: ECU

BO_ 256 Status1: 8 ECU
 SG_ rpm : 16|16@1+ (1,0) [0|8000] "rpm"  ECU
`

// A bridge with one healthy channel must keep the process alive even
// when a sibling channel cannot open its bus.
func TestRunningChannels(t *testing.T) {
	schemaPath := filepath.Join(t.TempDir(), "vehicle.dbc")
	require.NoError(t, os.WriteFile(schemaPath, []byte(testDBC), 0o644))

	opener := channel.OpenerFunc(func(_ context.Context, cfg config.ChannelConfig) (channel.Bus, error) {
		if cfg.Interface == "can1" {
			return nil, fmt.Errorf("no such device %s", cfg.Interface)
		}
		return channel.NewMemoryBus(16), nil
	})

	b, err := bridge.New(bridge.Deps{
		Config: &config.BridgeConfig{Channels: []config.ChannelConfig{
			{Name: "powertrain", Interface: "can0", SchemaFile: schemaPath},
			{Name: "body", Interface: "can1", SchemaFile: schemaPath},
		}},
		Opener: opener,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, runningChannels(b))

	err = b.Start(context.Background())
	require.Error(t, err, "the failed channel surfaces from Start")
	assert.Equal(t, 1, runningChannels(b))

	require.NoError(t, b.Stop(time.Second))
	assert.Equal(t, 0, runningChannels(b))
}
