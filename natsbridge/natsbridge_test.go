package natsbridge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evm100/TritonCAN/bridge"
	"github.com/evm100/TritonCAN/channel"
	"github.com/evm100/TritonCAN/config"
	"github.com/evm100/TritonCAN/natsclient"
)

const testDBC = `VERSION ""

NS_ :

BS_:

BU_: ECU DRIVER

BO_ 256 Status1: 8 ECU
 SG_ motor_temp : 0|16@1- (0.1,-40) [-40|120] "degC"  DRIVER

BO_ 257 Command: 8 DRIVER
 SG_ throttle : 0|8@1+ (1,0) [0|100] "%"  ECU
`

type published struct {
	subject string
	data    []byte
}

// fakeConn records publishes and lets tests drive subscriptions by hand.
type fakeConn struct {
	mu           sync.Mutex
	handlers     map[string]func(subject string, data []byte)
	unsubscribed []string

	pubCh chan published
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		handlers: make(map[string]func(string, []byte)),
		pubCh:    make(chan published, 16),
	}
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.pubCh <- published{subject: subject, data: data}
	return nil
}

func (c *fakeConn) Subscribe(subject string, handler func(string, []byte)) (natsclient.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[subject] = handler
	return &fakeSub{conn: c, subject: subject}, nil
}

// deliver simulates an inbound broker message.
func (c *fakeConn) deliver(subject string, data []byte) bool {
	c.mu.Lock()
	handler, ok := c.handlers[subject]
	c.mu.Unlock()
	if !ok {
		return false
	}
	handler(subject, data)
	return true
}

type fakeSub struct {
	conn    *fakeConn
	subject string
}

func (s *fakeSub) Unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	delete(s.conn.handlers, s.subject)
	s.conn.unsubscribed = append(s.conn.unsubscribed, s.subject)
	return nil
}

// newTestBridge builds a single channel bridge on a MemoryBus.
func newTestBridge(t *testing.T) (*bridge.Bridge, *channel.MemoryBus) {
	t.Helper()

	schemaPath := filepath.Join(t.TempDir(), "vehicle.dbc")
	require.NoError(t, os.WriteFile(schemaPath, []byte(testDBC), 0o644))

	bus := channel.NewMemoryBus(16)
	b, err := bridge.New(bridge.Deps{
		Config: &config.BridgeConfig{
			Channels: []config.ChannelConfig{{
				Name:       "powertrain",
				Interface:  "vcan0",
				SchemaFile: schemaPath,
				TxBindings: map[string]config.TxBindingConfig{
					"throttle_cmd": {
						Key:      "throttle_cmd",
						Frame:    "Command",
						Fields:   map[string]string{"throttle_pct": "throttle"},
						Metadata: map[string]any{"subject": "vehicle.throttle"},
					},
					"local_only": {
						Key:   "local_only",
						Frame: "Command",
					},
				},
				RxBindings: map[string]config.RxBindingConfig{
					"Status1": {
						Key:    "Status1",
						Frame:  "Status1",
						Fields: map[string]string{"motor_temp": "motor_temp_C"},
					},
				},
			}},
		},
		Opener: channel.OpenerFunc(func(context.Context, config.ChannelConfig) (channel.Bus, error) {
			return bus, nil
		}),
	})
	require.NoError(t, err)
	return b, bus
}

func TestAttach_Validation(t *testing.T) {
	_, err := Attach(nil, newFakeConn(), Options{})
	require.Error(t, err)

	b, _ := newTestBridge(t)
	_, err = Attach(b, nil, Options{})
	require.Error(t, err)
}

func TestAttach_InboundEnvelope(t *testing.T) {
	b, bus := newTestBridge(t)
	conn := newFakeConn()

	a, err := Attach(b, conn, Options{})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	require.NoError(t, b.Start(context.Background()))
	defer func() { _ = b.Stop(time.Second) }()

	svc, _ := b.Channel("powertrain")
	f, _ := svc.Schema().Frame("Status1")
	frm, err := f.Encode(map[string]float64{"motor_temp": 65})
	require.NoError(t, err)
	require.True(t, bus.Inject(frm))

	var msg published
	select {
	case msg = <-conn.pubCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope published")
	}

	// No subject in the binding metadata, so the generated one applies.
	assert.Equal(t, "tritoncan.rx.powertrain.Status1", msg.subject)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.data, &env))
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "powertrain", env.Channel)
	assert.Equal(t, "Status1", env.Binding)
	assert.Equal(t, "Status1", env.Frame)
	assert.False(t, env.ReceivedAt.IsZero())
	assert.InDelta(t, 65, env.Signals["motor_temp_C"], 0.05)
}

func TestAttach_SubjectPrefixOverride(t *testing.T) {
	b, bus := newTestBridge(t)
	conn := newFakeConn()

	a, err := Attach(b, conn, Options{SubjectPrefix: "fleet7"})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	require.NoError(t, b.Start(context.Background()))
	defer func() { _ = b.Stop(time.Second) }()

	svc, _ := b.Channel("powertrain")
	f, _ := svc.Schema().Frame("Status1")
	frm, err := f.Encode(map[string]float64{"motor_temp": 0})
	require.NoError(t, err)
	require.True(t, bus.Inject(frm))

	select {
	case msg := <-conn.pubCh:
		assert.Equal(t, "fleet7.rx.powertrain.Status1", msg.subject)
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope published")
	}
}

func TestAttach_OutboundSend(t *testing.T) {
	b, bus := newTestBridge(t)
	conn := newFakeConn()

	a, err := Attach(b, conn, Options{})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	require.NoError(t, b.Start(context.Background()))
	defer func() { _ = b.Stop(time.Second) }()

	// Only the binding with a subject in its metadata is subscribed.
	assert.False(t, conn.deliver("tritoncan.tx.powertrain.local_only", []byte("{}")))

	payload, _ := json.Marshal(map[string]float64{"throttle_pct": 35})
	require.True(t, conn.deliver("vehicle.throttle", payload))

	sent := bus.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(257), sent[0].ID)
}

func TestAttach_OutboundBadPayloadDropped(t *testing.T) {
	b, bus := newTestBridge(t)
	conn := newFakeConn()

	a, err := Attach(b, conn, Options{})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	require.NoError(t, b.Start(context.Background()))
	defer func() { _ = b.Stop(time.Second) }()

	// Malformed JSON and a payload missing the bound field are both
	// logged and dropped without transmitting.
	require.True(t, conn.deliver("vehicle.throttle", []byte("not json")))
	require.True(t, conn.deliver("vehicle.throttle", []byte(`{"wrong": 1}`)))

	assert.Empty(t, bus.Sent())
}

func TestAttachment_Close(t *testing.T) {
	b, _ := newTestBridge(t)
	conn := newFakeConn()

	a, err := Attach(b, conn, Options{})
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.Equal(t, []string{"vehicle.throttle"}, conn.unsubscribed)

	// Close is idempotent.
	require.NoError(t, a.Close())
}
