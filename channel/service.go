package channel

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/evm100/TritonCAN/binding"
	"github.com/evm100/TritonCAN/component"
	"github.com/evm100/TritonCAN/config"
	"github.com/evm100/TritonCAN/errors"
	"github.com/evm100/TritonCAN/metric"
	"github.com/evm100/TritonCAN/schema"
)

// defaultPollInterval bounds each blocking read so the stop flag is
// observed at least once per interval.
const defaultPollInterval = 100 * time.Millisecond

// Handler receives the decoded payload of one inbound frame together
// with the binding it was registered under. Handlers run on the
// channel's receive goroutine and should not block.
type Handler func(payload map[string]float64, cfg config.RxBindingConfig)

// rxEntry is one registered inbound binding
type rxEntry struct {
	dec     *binding.Decoder
	cfg     config.RxBindingConfig
	handler Handler
}

// Deps holds runtime dependencies for a channel service
type Deps struct {
	Config          config.ChannelConfig
	Opener          Opener                  // bus transport factory; DefaultOpener() in production
	Schema          *schema.Database        // optional pre-loaded schema; loaded from Config.SchemaFile when nil
	Logger          *slog.Logger            // runtime dependency
	MetricsRegistry *metric.MetricsRegistry // nil disables metrics
}

// Service manages one bus channel backed by a frame schema.
//
// Lifecycle: Stopped -> Starting -> Running -> Stopping -> Stopped.
// Bindings are registered before Start; Stop is idempotent and safe
// after a failed Start.
type Service struct {
	cfg          config.ChannelConfig
	opener       Opener
	db           *schema.Database
	logger       *slog.Logger
	pollInterval time.Duration

	mu       sync.RWMutex // guards bus and binding maps during setup/teardown
	bus      Bus
	encoders map[string]*binding.Encoder
	decoders map[uint32]*rxEntry

	txMu sync.Mutex // serializes bus writes

	state     atomic.Int32 // component.State
	running   atomic.Bool
	shutdown  chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	startTime time.Time

	framesReceived atomic.Int64
	errorCount     atomic.Int64
	lastActivity   atomic.Value // stores time.Time

	// Throttles decode-failure logging; a babbling device must not
	// flood the log.
	decodeLogLimit *rate.Limiter

	core *metric.Metrics
}

// Ensure Service satisfies the lifecycle contract
var _ component.LifecycleComponent = (*Service)(nil)

// New creates a channel service, loading the schema and compiling every
// outbound binding from the configuration. A binding whose frame is
// missing from the schema is logged and skipped; the rest register.
func New(deps Deps) (*Service, error) {
	cfg := deps.Config
	if cfg.Name == "" || cfg.Interface == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: channel name and interface are required", errors.ErrInvalidConfig),
			"channel", "New", "config validation")
	}

	opener := deps.Opener
	if opener == nil {
		opener = DefaultOpener()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("channel", cfg.Name)

	db := deps.Schema
	if db == nil {
		var err error
		db, err = schema.Load(cfg.SchemaFile)
		if err != nil {
			return nil, errors.Wrap(err, "channel", "New",
				fmt.Sprintf("schema load for channel %q", cfg.Name))
		}
	}

	s := &Service{
		cfg:            cfg,
		opener:         opener,
		db:             db,
		logger:         logger,
		pollInterval:   defaultPollInterval,
		encoders:       make(map[string]*binding.Encoder),
		decoders:       make(map[uint32]*rxEntry),
		decodeLogLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	if deps.MetricsRegistry != nil {
		s.core = deps.MetricsRegistry.CoreMetrics()
	}
	s.lastActivity.Store(time.Time{})
	s.setState(component.StateStopped)

	for key, txCfg := range cfg.TxBindings {
		if err := s.RegisterTxBinding(txCfg); err != nil {
			logger.Error("Skipping outbound binding", "binding", key, "error", err)
		}
	}

	return s, nil
}

// Name returns the channel name.
func (s *Service) Name() string { return s.cfg.Name }

// Config returns the channel configuration.
func (s *Service) Config() config.ChannelConfig { return s.cfg }

// Schema returns the loaded frame schema.
func (s *Service) Schema() *schema.Database { return s.db }

// State returns the current lifecycle state.
func (s *Service) State() component.State {
	return component.State(s.state.Load())
}

func (s *Service) setState(st component.State) {
	s.state.Store(int32(st))
	if s.core != nil {
		s.core.ChannelStatus.WithLabelValues(s.cfg.Name).Set(float64(st))
	}
}

// RegisterTxBinding compiles and registers an outbound binding. The
// frame name is resolved against the schema exactly once, here.
// Registration is rejected once the channel is running.
func (s *Service) RegisterTxBinding(cfg config.TxBindingConfig) error {
	if s.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"channel", "RegisterTxBinding", fmt.Sprintf("channel %q", s.cfg.Name))
	}

	enc, err := binding.CompileTx(s.db, cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoders[cfg.Key] = enc
	s.logger.Debug("Registered TX binding",
		"binding", cfg.Key, "frame", enc.FrameName(), "frame_id", fmt.Sprintf("0x%X", enc.FrameID()))
	return nil
}

// RegisterRxBinding compiles and registers an inbound binding with its
// handler. Decoders are keyed by the frame's numeric identifier; a later
// registration for the same identifier replaces the earlier one.
func (s *Service) RegisterRxBinding(cfg config.RxBindingConfig, handler Handler) error {
	if s.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"channel", "RegisterRxBinding", fmt.Sprintf("channel %q", s.cfg.Name))
	}
	if handler == nil {
		return errors.WrapInvalid(
			fmt.Errorf("nil handler for binding %q", cfg.Key),
			"channel", "RegisterRxBinding", "handler validation")
	}

	dec, err := binding.CompileRx(s.db, cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoders[dec.FrameID()] = &rxEntry{dec: dec, cfg: cfg, handler: handler}
	s.logger.Debug("Registered RX binding",
		"binding", cfg.Key, "frame", dec.FrameName(), "frame_id", fmt.Sprintf("0x%X", dec.FrameID()))
	return nil
}

// Start opens the bus, installs acceptance filters, and spawns the
// receive loop. An open failure is fatal for this channel only.
// Idempotent when already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}
	s.setState(component.StateStarting)

	bus, err := s.opener.Open(ctx, s.cfg)
	if err != nil {
		s.setState(component.StateFailed)
		return errors.WrapFatal(
			fmt.Errorf("%w: channel %q interface %q: %v",
				errors.ErrChannelOpen, s.cfg.Name, s.cfg.Interface, err),
			"channel", "Start", "bus open")
	}
	s.bus = bus

	if len(s.cfg.Filters) > 0 {
		if err := bus.SetFilters(s.cfg.Filters); err != nil {
			// Filtering is an optimization; decode dispatch drops
			// unknown frames anyway.
			s.logger.Warn("Failed to apply acceptance filters", "error", err)
		}
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)
	s.startTime = time.Now()
	s.setState(component.StateRunning)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.receiveLoop(ctx)
	}()

	s.logger.Info("Channel started",
		"interface", s.cfg.Interface,
		"bitrate", s.cfg.Bitrate,
		"fd", s.cfg.FD,
		"tx_bindings", len(s.encoders),
		"rx_bindings", len(s.decoders))
	return nil
}

// Send encodes the payload through the named outbound binding and
// transmits one frame. Transmit failures are reported to the caller and
// never retried here; only the caller knows whether a re-send is safe.
func (s *Service) Send(key string, payload map[string]float64) error {
	if !s.running.Load() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: channel %q", errors.ErrNotStarted, s.cfg.Name),
			"channel", "Send", "state check")
	}

	s.mu.RLock()
	enc, ok := s.encoders[key]
	bus := s.bus
	s.mu.RUnlock()

	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q on channel %q", errors.ErrUnknownBinding, key, s.cfg.Name),
			"channel", "Send", "binding lookup")
	}

	frame, err := enc.Encode(payload)
	if err != nil {
		return err
	}

	// Most bus transports do not guarantee thread-safe concurrent
	// writes; serialize them.
	s.txMu.Lock()
	err = bus.Send(frame)
	s.txMu.Unlock()

	if err != nil {
		s.errorCount.Add(1)
		if s.core != nil {
			s.core.TransmitErrors.WithLabelValues(s.cfg.Name, key).Inc()
		}
		return errors.WrapTransient(
			fmt.Errorf("%w: binding %q on channel %q: %v",
				errors.ErrTransmitFailed, key, s.cfg.Name, err),
			"channel", "Send", "frame transmit")
	}

	if s.core != nil {
		s.core.FramesSent.WithLabelValues(s.cfg.Name, key).Inc()
	}
	s.logger.Debug("TX frame",
		"binding", key, "frame", enc.FrameName(), "frame_id", fmt.Sprintf("0x%X", enc.FrameID()))
	return nil
}

// Stop signals the receive loop, waits at most timeout for it to exit,
// then closes the bus. Safe to call multiple times and after a failed
// Start; the bus handle is closed only after the loop has observably
// stopped (or the bounded wait expired).
func (s *Service) Stop(timeout time.Duration) error {
	if !s.running.Swap(false) {
		// Never started, already stopped, or Start failed partway:
		// release whatever was acquired.
		s.closeBus()
		if s.State() != component.StateFailed {
			s.setState(component.StateStopped)
		}
		return nil
	}

	s.setState(component.StateStopping)

	s.mu.Lock()
	if s.shutdown != nil {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
		}
	}
	done := s.done
	s.mu.Unlock()

	var waitErr error
	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			// Proceed to close the bus anyway; Receive's bounded poll
			// means the loop exits shortly after.
			s.logger.Warn("Receive loop did not exit within timeout", "timeout", timeout)
			waitErr = errors.WrapTransient(
				fmt.Errorf("stop timeout after %v on channel %q", timeout, s.cfg.Name),
				"channel", "Stop", "graceful shutdown")
		}
	}

	s.closeBus()
	s.setState(component.StateStopped)
	s.logger.Info("Channel stopped")
	return waitErr
}

func (s *Service) closeBus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Debug("Error closing bus", "error", err)
		}
		s.bus = nil
	}
}

// Health returns the current health status of the channel.
func (s *Service) Health() component.HealthStatus {
	running := s.running.Load()
	var uptime time.Duration
	if running {
		uptime = time.Since(s.startTime)
	}
	return component.HealthStatus{
		Healthy:    running,
		State:      s.State(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.errorCount.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns the channel's recent data flow metrics.
func (s *Service) DataFlow() component.FlowMetrics {
	frames := s.framesReceived.Load()
	errs := s.errorCount.Load()
	lastActivity, _ := s.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(s.startTime).Seconds(); uptime > 0 && s.running.Load() {
		perSecond = float64(frames) / uptime
	}
	if frames > 0 {
		errorRate = float64(errs) / float64(frames)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// receiveLoop reads frames until shutdown. Frames with no registered
// decoder are expected traffic and ignored; a frame that fails to decode
// is logged and dropped without disturbing the loop.
func (s *Service) receiveLoop(ctx context.Context) {
	s.logger.Info("Receive loop started")
	defer s.logger.Info("Receive loop stopped")

	for s.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}

		s.mu.RLock()
		bus := s.bus
		s.mu.RUnlock()
		if bus == nil {
			return
		}

		frame, err := bus.Receive(s.pollInterval)
		if err != nil {
			if stderrors.Is(err, errors.ErrReceiveTimeout) {
				continue
			}
			if stderrors.Is(err, errors.ErrBusClosed) {
				return
			}
			s.errorCount.Add(1)
			if s.decodeLogLimit.Allow() {
				s.logger.Error("Bus read failed", "error", err)
			}
			continue
		}

		s.framesReceived.Add(1)
		now := time.Now()
		s.lastActivity.Store(now)
		if s.core != nil {
			s.core.FramesReceived.WithLabelValues(s.cfg.Name).Inc()
			s.core.LastActivity.WithLabelValues(s.cfg.Name).Set(float64(now.Unix()))
		}

		// Registration may race Start, so the lookup takes the same
		// lock the register path writes under.
		s.mu.RLock()
		entry, ok := s.decoders[frame.ID]
		s.mu.RUnlock()
		if !ok {
			if s.core != nil {
				s.core.FramesIgnored.WithLabelValues(s.cfg.Name).Inc()
			}
			continue
		}

		payload, err := entry.dec.Decode(frame)
		if err != nil {
			s.errorCount.Add(1)
			if s.core != nil {
				s.core.DecodeErrors.WithLabelValues(s.cfg.Name).Inc()
			}
			if s.decodeLogLimit.Allow() {
				s.logger.Error("Failed to decode frame",
					"frame_id", fmt.Sprintf("0x%X", frame.ID), "error", err)
			}
			continue
		}

		s.dispatch(entry, payload, frame.ID)
	}
}

// dispatch invokes the handler, containing any panic so a misbehaving
// consumer cannot kill the receive loop.
func (s *Service) dispatch(entry *rxEntry, payload map[string]float64, frameID uint32) {
	defer func() {
		if r := recover(); r != nil {
			s.errorCount.Add(1)
			s.logger.Error("Handler panicked",
				"binding", entry.cfg.Key, "frame_id", fmt.Sprintf("0x%X", frameID), "panic", r)
		}
	}()
	entry.handler(payload, entry.cfg)
}
