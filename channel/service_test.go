package channel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/descriptor"

	"github.com/evm100/TritonCAN/config"
	"github.com/evm100/TritonCAN/errors"
	"github.com/evm100/TritonCAN/schema"
)

func testSchema(t *testing.T) *schema.Database {
	t.Helper()
	db, err := schema.New(&descriptor.Database{
		Messages: []*descriptor.Message{
			{
				Name:   "Status1",
				ID:     0x100,
				Length: 8,
				Signals: []*descriptor.Signal{
					{Name: "motor_temp", Start: 0, Length: 16, IsSigned: true, Scale: 0.1, Offset: -40, Min: -40, Max: 120},
					{Name: "rpm", Start: 16, Length: 16, Scale: 1, Min: 0, Max: 8000},
				},
			},
			{
				Name:   "Command",
				ID:     0x101,
				Length: 8,
				Signals: []*descriptor.Signal{
					{Name: "throttle", Start: 0, Length: 8, Scale: 1, Min: 0, Max: 100},
				},
			},
		},
	})
	require.NoError(t, err)
	return db
}

func testConfig() config.ChannelConfig {
	return config.ChannelConfig{
		Name:      "powertrain",
		Interface: "vcan0",
		TxBindings: map[string]config.TxBindingConfig{
			"throttle_cmd": {
				Key:    "throttle_cmd",
				Frame:  "Command",
				Fields: map[string]string{"throttle_pct": "throttle"},
			},
		},
	}
}

// newTestService wires a service to a MemoryBus.
func newTestService(t *testing.T, cfg config.ChannelConfig) (*Service, *MemoryBus) {
	t.Helper()
	bus := NewMemoryBus(16)
	svc, err := New(Deps{
		Config: cfg,
		Schema: testSchema(t),
		Opener: OpenerFunc(func(context.Context, config.ChannelConfig) (Bus, error) {
			return bus, nil
		}),
	})
	require.NoError(t, err)
	// Speed up the poll so tests converge quickly.
	svc.pollInterval = 5 * time.Millisecond
	return svc, bus
}

// waitPayload blocks until the handler delivers a payload or fails the test.
func waitPayload(t *testing.T, ch <-chan map[string]float64) map[string]float64 {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func TestService_ReceiveDispatch(t *testing.T) {
	svc, bus := newTestService(t, testConfig())

	got := make(chan map[string]float64, 1)
	err := svc.RegisterRxBinding(config.RxBindingConfig{
		Key:    "temp_report",
		Frame:  "Status1",
		Fields: map[string]string{"motor_temp": "motor_temp_C"},
	}, func(payload map[string]float64, cfg config.RxBindingConfig) {
		assert.Equal(t, "temp_report", cfg.Key)
		got <- payload
	})
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	f, _ := svc.Schema().Frame("Status1")
	frm, err := f.Encode(map[string]float64{"motor_temp": 80, "rpm": 1200})
	require.NoError(t, err)
	require.True(t, bus.Inject(frm))

	payload := waitPayload(t, got)
	require.Len(t, payload, 1)
	assert.InDelta(t, 80, payload["motor_temp_C"], 0.05)
}

func TestService_UnknownFrameIgnored(t *testing.T) {
	svc, bus := newTestService(t, testConfig())

	got := make(chan map[string]float64, 1)
	require.NoError(t, svc.RegisterRxBinding(config.RxBindingConfig{
		Key: "Status1", Frame: "Status1",
	}, func(payload map[string]float64, _ config.RxBindingConfig) {
		got <- payload
	}))

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	// No decoder for this identifier; the frame must be silently dropped.
	require.True(t, bus.Inject(can.Frame{ID: 0x7FF, Length: 8}))

	f, _ := svc.Schema().Frame("Status1")
	frm, err := f.Encode(map[string]float64{"motor_temp": 10, "rpm": 100})
	require.NoError(t, err)
	require.True(t, bus.Inject(frm))

	payload := waitPayload(t, got)
	assert.InDelta(t, 10, payload["motor_temp"], 0.05)
}

func TestService_DecodeFailureKeepsLoopAlive(t *testing.T) {
	svc, bus := newTestService(t, testConfig())

	got := make(chan map[string]float64, 1)
	require.NoError(t, svc.RegisterRxBinding(config.RxBindingConfig{
		Key: "Status1", Frame: "Status1",
	}, func(payload map[string]float64, _ config.RxBindingConfig) {
		got <- payload
	}))

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	// Known identifier, wrong byte length: decode fails, loop continues.
	require.True(t, bus.Inject(can.Frame{ID: 0x100, Length: 2}))

	f, _ := svc.Schema().Frame("Status1")
	frm, err := f.Encode(map[string]float64{"motor_temp": 20, "rpm": 100})
	require.NoError(t, err)
	require.True(t, bus.Inject(frm))

	payload := waitPayload(t, got)
	assert.InDelta(t, 20, payload["motor_temp"], 0.05)
	assert.GreaterOrEqual(t, svc.Health().ErrorCount, 1)
}

func TestService_HandlerPanicContained(t *testing.T) {
	svc, bus := newTestService(t, testConfig())

	calls := make(chan struct{}, 2)
	first := true
	require.NoError(t, svc.RegisterRxBinding(config.RxBindingConfig{
		Key: "Status1", Frame: "Status1",
	}, func(map[string]float64, config.RxBindingConfig) {
		calls <- struct{}{}
		if first {
			first = false
			panic("consumer bug")
		}
	}))

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	f, _ := svc.Schema().Frame("Status1")
	frm, err := f.Encode(map[string]float64{"motor_temp": 0, "rpm": 0})
	require.NoError(t, err)

	require.True(t, bus.Inject(frm))
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("first dispatch never happened")
	}

	// The loop must survive the panic and dispatch again.
	require.True(t, bus.Inject(frm))
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop died after handler panic")
	}
}

func TestService_Send(t *testing.T) {
	svc, bus := newTestService(t, testConfig())
	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	require.NoError(t, svc.Send("throttle_cmd", map[string]float64{"throttle_pct": 42}))

	sent := bus.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(0x101), sent[0].ID)
	assert.Equal(t, uint8(8), sent[0].Length)
}

func TestService_SendMissingField(t *testing.T) {
	svc, bus := newTestService(t, testConfig())
	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	err := svc.Send("throttle_cmd", map[string]float64{"nope": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingField)
	assert.Empty(t, bus.Sent(), "no frame may reach the bus on encode failure")
}

func TestService_SendUnknownBinding(t *testing.T) {
	svc, bus := newTestService(t, testConfig())
	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	err := svc.Send("brake_cmd", map[string]float64{"x": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownBinding)
	assert.Empty(t, bus.Sent())
}

func TestService_SendBeforeStart(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	err := svc.Send("throttle_cmd", map[string]float64{"throttle_pct": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestService_SendTransmitFailure(t *testing.T) {
	svc, bus := newTestService(t, testConfig())
	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	bus.SendErr = fmt.Errorf("tx queue full")

	err := svc.Send("throttle_cmd", map[string]float64{"throttle_pct": 42})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransmitFailed)
	assert.True(t, errors.IsTransient(err))
}

func TestService_StartOpenFailure(t *testing.T) {
	svc, err := New(Deps{
		Config: testConfig(),
		Schema: testSchema(t),
		Opener: OpenerFunc(func(context.Context, config.ChannelConfig) (Bus, error) {
			return nil, fmt.Errorf("no such device vcan0")
		}),
	})
	require.NoError(t, err)

	err = svc.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrChannelOpen)
	assert.True(t, errors.IsFatal(err))

	// Stop after a failed start must be a no-op.
	assert.NoError(t, svc.Stop(time.Second))
}

func TestService_StopIdempotent(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	require.NoError(t, svc.Start(context.Background()))

	assert.NoError(t, svc.Stop(time.Second))
	assert.NoError(t, svc.Stop(time.Second))

	err := svc.Send("throttle_cmd", map[string]float64{"throttle_pct": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestService_RegisterWhileRunning(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	err := svc.RegisterTxBinding(config.TxBindingConfig{Key: "late", Frame: "Command"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	err = svc.RegisterRxBinding(config.RxBindingConfig{Key: "late", Frame: "Status1"},
		func(map[string]float64, config.RxBindingConfig) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

// A registration racing Start may slip past the running check before the
// receive loop is up; the decoder map write and the loop's lookup share a
// lock, so either outcome leaves a coherent, live loop. Run with -race.
func TestService_RegisterRacesStart(t *testing.T) {
	svc, bus := newTestService(t, testConfig())

	payloads := make(chan map[string]float64, 64)
	require.NoError(t, svc.RegisterRxBinding(
		config.RxBindingConfig{Key: "temp_report", Frame: "Status1"},
		func(p map[string]float64, _ config.RxBindingConfig) { payloads <- p }))

	registered := make(chan error, 1)
	go func() {
		registered <- svc.RegisterRxBinding(
			config.RxBindingConfig{Key: "late", Frame: "Command"},
			func(map[string]float64, config.RxBindingConfig) {})
	}()
	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	// The racing registration either landed before the loop came up or
	// was rejected; nothing else is acceptable.
	if err := <-registered; err != nil {
		assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
	}

	f, _ := svc.Schema().Frame("Status1")
	for i := 0; i < 20; i++ {
		frm, err := f.Encode(map[string]float64{"rpm": float64(i * 100)})
		require.NoError(t, err)
		bus.Inject(frm)
		waitPayload(t, payloads)
	}
}

func TestService_SkipsBadTxBinding(t *testing.T) {
	cfg := testConfig()
	cfg.TxBindings["broken"] = config.TxBindingConfig{Key: "broken", Frame: "NotInSchema"}

	svc, _ := newTestService(t, cfg)

	// The bad binding is skipped; the good one still works.
	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop(time.Second) }()

	assert.NoError(t, svc.Send("throttle_cmd", map[string]float64{"throttle_pct": 1}))
	err := svc.Send("broken", map[string]float64{})
	assert.ErrorIs(t, err, errors.ErrUnknownBinding)
}

func TestMemoryBus_Filters(t *testing.T) {
	bus := NewMemoryBus(4)
	require.NoError(t, bus.SetFilters([]config.FilterConfig{{ID: 0x100, Mask: 0x700}}))

	assert.True(t, bus.Inject(can.Frame{ID: 0x123, Length: 8}), "matches 0x100/0x700")
	assert.False(t, bus.Inject(can.Frame{ID: 0x223, Length: 8}), "filtered out")

	frm, err := bus.Receive(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x123), frm.ID)

	_, err = bus.Receive(20 * time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrReceiveTimeout)

	require.NoError(t, bus.Close())
	_, err = bus.Receive(20 * time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrBusClosed)
	assert.ErrorIs(t, bus.Send(can.Frame{}), errors.ErrBusClosed)
}
