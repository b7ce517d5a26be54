package binding

import (
	"fmt"

	"go.einride.tech/can"

	"github.com/evm100/TritonCAN/config"
	"github.com/evm100/TritonCAN/errors"
	"github.com/evm100/TritonCAN/schema"
)

// Encoder turns application payloads into frames for one outbound
// binding. Stateless after construction.
type Encoder struct {
	cfg   config.TxBindingConfig
	frame *schema.Frame
	// friendly payload key -> schema signal name; nil means payload keys
	// are already signal names
	fieldToSignal map[string]string
}

// CompileTx resolves an outbound binding's frame name against the schema.
func CompileTx(db *schema.Database, cfg config.TxBindingConfig) (*Encoder, error) {
	frame, ok := db.Frame(cfg.Frame)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: binding %q references frame %q",
				errors.ErrUnknownFrame, cfg.Key, cfg.Frame),
			"binding", "CompileTx", "frame lookup")
	}

	enc := &Encoder{cfg: cfg, frame: frame}
	if len(cfg.Fields) > 0 {
		enc.fieldToSignal = cfg.Fields
	}
	return enc, nil
}

// Key returns the binding key.
func (e *Encoder) Key() string { return e.cfg.Key }

// FrameName returns the resolved schema frame name.
func (e *Encoder) FrameName() string { return e.frame.Name() }

// FrameID returns the numeric identifier frames produced by Encode carry.
func (e *Encoder) FrameID() uint32 { return e.frame.ID() }

// Config returns the binding configuration the encoder was compiled from.
func (e *Encoder) Config() config.TxBindingConfig { return e.cfg }

// Encode builds one frame from a payload. With a field map, every mapped
// friendly key must be present; without one the payload keys must already
// be valid signal names, and the schema reports anything malformed.
func (e *Encoder) Encode(payload map[string]float64) (can.Frame, error) {
	values := payload
	if e.fieldToSignal != nil {
		values = make(map[string]float64, len(e.fieldToSignal))
		for field, signal := range e.fieldToSignal {
			v, ok := payload[field]
			if !ok {
				return can.Frame{}, errors.WrapInvalid(
					fmt.Errorf("%w: field %q for binding %q",
						errors.ErrMissingField, field, e.cfg.Key),
					"binding", "Encode", "payload validation")
			}
			values[signal] = v
		}
	}

	frm, err := e.frame.Encode(values)
	if err != nil {
		return can.Frame{}, errors.Wrap(err, "binding", "Encode", fmt.Sprintf("binding %q", e.cfg.Key))
	}
	return frm, nil
}

// Decoder turns frames into application payloads for one inbound
// binding. Stateless after construction.
type Decoder struct {
	cfg   config.RxBindingConfig
	frame *schema.Frame
	// schema signal name -> friendly payload key; nil means decoded
	// signals pass through unchanged
	signalToField map[string]string
}

// CompileRx resolves an inbound binding's frame name against the schema.
func CompileRx(db *schema.Database, cfg config.RxBindingConfig) (*Decoder, error) {
	frame, ok := db.Frame(cfg.Frame)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: binding %q references frame %q",
				errors.ErrUnknownFrame, cfg.Key, cfg.Frame),
			"binding", "CompileRx", "frame lookup")
	}

	dec := &Decoder{cfg: cfg, frame: frame}
	if len(cfg.Fields) > 0 {
		dec.signalToField = cfg.Fields
	}
	return dec, nil
}

// Key returns the binding key.
func (d *Decoder) Key() string { return d.cfg.Key }

// FrameName returns the resolved schema frame name.
func (d *Decoder) FrameName() string { return d.frame.Name() }

// FrameID returns the numeric identifier the decoder matches.
func (d *Decoder) FrameID() uint32 { return d.frame.ID() }

// Config returns the binding configuration the decoder was compiled from.
func (d *Decoder) Config() config.RxBindingConfig { return d.cfg }

// Decode unpacks one frame. With a signal map only mapped signals are
// forwarded, so raw schema internals never leak to handlers; without one
// all decoded signals pass through under their schema names.
func (d *Decoder) Decode(frm can.Frame) (map[string]float64, error) {
	decoded, err := d.frame.Decode(frm)
	if err != nil {
		return nil, errors.Wrap(err, "binding", "Decode", fmt.Sprintf("binding %q", d.cfg.Key))
	}

	if d.signalToField == nil {
		return decoded, nil
	}

	payload := make(map[string]float64, len(d.signalToField))
	for signal, field := range d.signalToField {
		if v, ok := decoded[signal]; ok {
			payload[field] = v
		}
	}
	return payload, nil
}
