package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evm100/TritonCAN/channel"
	"github.com/evm100/TritonCAN/component"
	"github.com/evm100/TritonCAN/config"
	"github.com/evm100/TritonCAN/errors"
	"github.com/evm100/TritonCAN/metric"
)

// Deps holds runtime dependencies for the bridge supervisor
type Deps struct {
	Config          *config.BridgeConfig
	Opener          channel.Opener          // defaults to SocketCAN
	Logger          *slog.Logger            // runtime dependency
	MetricsRegistry *metric.MetricsRegistry // nil disables metrics
}

// Bridge owns one channel service per configured channel
type Bridge struct {
	cfg      *config.BridgeConfig
	logger   *slog.Logger
	services map[string]*channel.Service
	order    []string

	mu       sync.Mutex
	initErrs []error // channels that failed to construct, surfaced from Start
}

// New builds channel services for every configured channel. A channel
// whose schema cannot be loaded is recorded and surfaced from Start;
// the remaining channels are unaffected.
func New(deps Deps) (*Bridge, error) {
	if deps.Config == nil || len(deps.Config.Channels) == 0 {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: bridge requires at least one channel", errors.ErrMissingConfig),
			"bridge", "New", "config validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		cfg:      deps.Config,
		logger:   logger,
		services: make(map[string]*channel.Service, len(deps.Config.Channels)),
	}

	for _, chCfg := range deps.Config.Channels {
		svc, err := channel.New(channel.Deps{
			Config:          chCfg,
			Opener:          deps.Opener,
			Logger:          logger,
			MetricsRegistry: deps.MetricsRegistry,
		})
		if err != nil {
			logger.Error("Channel unavailable", "channel", chCfg.Name, "error", err)
			b.initErrs = append(b.initErrs,
				fmt.Errorf("channel %q: %w", chCfg.Name, err))
			continue
		}
		b.services[chCfg.Name] = svc
		b.order = append(b.order, chCfg.Name)
	}

	return b, nil
}

// Channel returns the service for the named channel.
func (b *Bridge) Channel(name string) (*channel.Service, bool) {
	svc, ok := b.services[name]
	return svc, ok
}

// Names lists the available channels in configuration order.
func (b *Bridge) Names() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Start starts every channel concurrently. Open failures are joined into
// the returned error; channels that did start keep running regardless.
func (b *Bridge) Start(ctx context.Context) error {
	var (
		mu       sync.Mutex
		failures []error
	)

	// The caller's ctx is threaded through to each receive loop, so it
	// must outlive Start. A derived group context would be cancelled as
	// soon as Wait returns and kill every loop.
	var g errgroup.Group
	for _, name := range b.order {
		svc := b.services[name]
		g.Go(func() error {
			if err := svc.Start(ctx); err != nil {
				b.logger.Error("Channel failed to start", "channel", svc.Name(), "error", err)
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
			// A single bad bus must not take down the whole bridge, so
			// the group itself never fails.
			return nil
		})
	}
	_ = g.Wait()

	b.mu.Lock()
	failures = append(b.initErrs, failures...)
	b.mu.Unlock()

	started := 0
	for _, svc := range b.services {
		if svc.State() == component.StateRunning {
			started++
		}
	}
	b.logger.Info("Bridge started", "channels", started, "failed", len(failures))

	return stderrors.Join(failures...)
}

// Stop shuts down every channel regardless of individual state,
// collecting errors instead of raising on the first.
func (b *Bridge) Stop(timeout time.Duration) error {
	var (
		mu       sync.Mutex
		failures []error
	)

	var wg sync.WaitGroup
	for _, name := range b.order {
		svc := b.services[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Stop(timeout); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("channel %q: %w", svc.Name(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	b.logger.Info("Bridge stopped", "channels", len(b.order), "errors", len(failures))
	return stderrors.Join(failures...)
}
