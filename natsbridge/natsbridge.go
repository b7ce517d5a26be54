package natsbridge

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evm100/TritonCAN/bridge"
	"github.com/evm100/TritonCAN/channel"
	"github.com/evm100/TritonCAN/config"
	"github.com/evm100/TritonCAN/errors"
	"github.com/evm100/TritonCAN/natsclient"
)

// DefaultSubjectPrefix is the first token of subjects built for bindings
// that do not override the subject in their metadata.
const DefaultSubjectPrefix = "tritoncan"

// Conn is the slice of a messaging client the attachment needs.
// *natsclient.Client satisfies it.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(subject string, data []byte)) (natsclient.Subscription, error)
}

// Envelope is the JSON document published for every decoded inbound frame.
type Envelope struct {
	ID         string             `json:"id"`
	Channel    string             `json:"channel"`
	Binding    string             `json:"binding"`
	Frame      string             `json:"frame"`
	Signals    map[string]float64 `json:"signals"`
	ReceivedAt time.Time          `json:"received_at"`
}

// Options tunes an attachment. The zero value is usable.
type Options struct {
	// SubjectPrefix replaces DefaultSubjectPrefix in generated subjects.
	SubjectPrefix string
	// Logger receives per-message failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Attachment owns the subscriptions created by Attach.
type Attachment struct {
	logger *slog.Logger
	subs   []natsclient.Subscription
}

// Attach wires every channel in the bridge to the connection. Inbound
// bindings are registered with handlers that publish envelopes; outbound
// bindings whose metadata names a subject are subscribed so published
// payloads are forwarded to Service.Send. Must run before bridge.Start,
// since services reject binding registration once running.
//
// A binding that fails to register or subscribe is logged and skipped;
// the remaining bindings still attach.
func Attach(b *bridge.Bridge, conn Conn, opts Options) (*Attachment, error) {
	if b == nil || conn == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "natsbridge", "Attach", "nil bridge or conn")
	}

	prefix := opts.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Attachment{logger: logger}
	for _, name := range b.Names() {
		svc, ok := b.Channel(name)
		if !ok {
			continue
		}
		a.attachChannel(svc, conn, prefix)
	}
	return a, nil
}

func (a *Attachment) attachChannel(svc *channel.Service, conn Conn, prefix string) {
	cfg := svc.Config()

	for key, rx := range cfg.RxBindings {
		subject := metaSubject(rx.Metadata)
		if subject == "" {
			subject = fmt.Sprintf("%s.rx.%s.%s", prefix, cfg.Name, key)
		}
		if err := svc.RegisterRxBinding(rx, a.publishHandler(conn, subject, cfg.Name)); err != nil {
			a.logger.Error("rx binding registration failed",
				"channel", cfg.Name, "binding", key, "error", err)
		}
	}

	for key, tx := range cfg.TxBindings {
		subject := metaSubject(tx.Metadata)
		if subject == "" {
			// Binding is only drivable through Service.Send.
			continue
		}
		sub, err := conn.Subscribe(subject, a.sendHandler(svc, key))
		if err != nil {
			a.logger.Error("tx binding subscribe failed",
				"channel", cfg.Name, "binding", key, "subject", subject, "error", err)
			continue
		}
		a.subs = append(a.subs, sub)
	}
}

// publishHandler builds the Handler that turns decoded payloads into
// published envelopes. Publish failures are logged and dropped so a
// broker outage never stalls the receive loop.
func (a *Attachment) publishHandler(conn Conn, subject, channelName string) channel.Handler {
	return func(payload map[string]float64, cfg config.RxBindingConfig) {
		env := Envelope{
			ID:         uuid.NewString(),
			Channel:    channelName,
			Binding:    cfg.Key,
			Frame:      cfg.Frame,
			Signals:    payload,
			ReceivedAt: time.Now().UTC(),
		}
		data, err := json.Marshal(env)
		if err != nil {
			a.logger.Error("envelope marshal failed",
				"channel", channelName, "binding", cfg.Key, "error", err)
			return
		}
		if err := conn.Publish(subject, data); err != nil {
			a.logger.Warn("envelope publish failed",
				"channel", channelName, "binding", cfg.Key, "subject", subject, "error", err)
		}
	}
}

// sendHandler builds the subscription callback that forwards published
// payloads to the service. The payload is a flat JSON object of field
// name to numeric value.
func (a *Attachment) sendHandler(svc *channel.Service, key string) func(subject string, data []byte) {
	return func(subject string, data []byte) {
		var payload map[string]float64
		if err := json.Unmarshal(data, &payload); err != nil {
			a.logger.Warn("payload decode failed",
				"channel", svc.Name(), "binding", key, "subject", subject, "error", err)
			return
		}
		if err := svc.Send(key, payload); err != nil {
			a.logger.Warn("send failed",
				"channel", svc.Name(), "binding", key, "error", err)
		}
	}
}

// Close drops every subscription created by Attach.
func (a *Attachment) Close() error {
	var errs []error
	for _, sub := range a.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	a.subs = nil
	return stderrors.Join(errs...)
}

func metaSubject(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if s, ok := meta["subject"].(string); ok {
		return s
	}
	return ""
}
