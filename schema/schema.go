package schema

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/dbc"
	"go.einride.tech/can/pkg/descriptor"

	"github.com/evm100/TritonCAN/errors"
)

// maxDataLength is the classic CAN payload limit. The transport types are
// classic-CAN; longer frames are rejected at compile time.
const maxDataLength = 8

// Database is an indexed view of a compiled DBC schema. Read-only after
// construction and safe to share across channels.
type Database struct {
	desc   *descriptor.Database
	byName map[string]*Frame
	byID   map[uint32]*Frame
}

// Frame is one frame definition with its named signals.
type Frame struct {
	desc    *descriptor.Message
	signals map[string]*descriptor.Signal
}

// Load reads and parses a DBC file, building the frame index from its
// message definitions.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "schema", "Load", "file read")
	}

	parser := dbc.NewParser(filepath.Base(path), data)
	if err := parser.Parse(); err != nil {
		return nil, errors.WrapInvalid(err, "schema", "Load", "dbc parse")
	}

	db := &descriptor.Database{SourceFile: path}
	for _, def := range parser.Defs() {
		switch def := def.(type) {
		case *dbc.VersionDef:
			db.Version = def.Version
		case *dbc.MessageDef:
			// The independent-signals pseudo message holds signals not
			// assigned to any frame; it is never bus traffic.
			if def.MessageID == dbc.IndependentSignalsMessageID {
				continue
			}
			db.Messages = append(db.Messages, compileMessage(def))
		}
	}

	return New(db)
}

// compileMessage converts one parsed message definition into its
// descriptor form, with the extended-ID flag stripped out of the
// numeric identifier.
func compileMessage(def *dbc.MessageDef) *descriptor.Message {
	msg := &descriptor.Message{
		Name:       string(def.Name),
		ID:         def.MessageID.ToCAN(),
		IsExtended: def.MessageID.IsExtended(),
		Length:     uint8(def.Size),
		SenderNode: string(def.Transmitter),
	}
	for i := range def.Signals {
		sd := &def.Signals[i]
		sig := &descriptor.Signal{
			Name:             string(sd.Name),
			Start:            uint8(sd.StartBit),
			Length:           uint8(sd.Size),
			IsBigEndian:      sd.IsBigEndian,
			IsSigned:         sd.IsSigned,
			IsMultiplexer:    sd.IsMultiplexerSwitch,
			IsMultiplexed:    sd.IsMultiplexed,
			MultiplexerValue: uint(sd.MultiplexerSwitch),
			Scale:            sd.Factor,
			Offset:           sd.Offset,
			Min:              sd.Minimum,
			Max:              sd.Maximum,
			Unit:             sd.Unit,
		}
		for _, r := range sd.Receivers {
			sig.ReceiverNodes = append(sig.ReceiverNodes, string(r))
		}
		msg.Signals = append(msg.Signals, sig)
	}
	return msg
}

// New indexes an already-compiled descriptor database.
func New(db *descriptor.Database) (*Database, error) {
	if db == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nil descriptor database"), "schema", "New", "database validation")
	}

	d := &Database{
		desc:   db,
		byName: make(map[string]*Frame, len(db.Messages)),
		byID:   make(map[uint32]*Frame, len(db.Messages)),
	}

	for _, msg := range db.Messages {
		if msg.Length > maxDataLength {
			return nil, errors.WrapInvalid(
				fmt.Errorf("frame %s is %d bytes, classic CAN allows at most %d",
					msg.Name, msg.Length, maxDataLength),
				"schema", "New", "frame length validation")
		}
		f := &Frame{
			desc:    msg,
			signals: make(map[string]*descriptor.Signal, len(msg.Signals)),
		}
		for _, sig := range msg.Signals {
			f.signals[sig.Name] = sig
		}
		d.byName[msg.Name] = f
		d.byID[msg.ID] = f
	}

	return d, nil
}

// Frame looks up a frame definition by name.
func (d *Database) Frame(name string) (*Frame, bool) {
	f, ok := d.byName[name]
	return f, ok
}

// FrameByID looks up a frame definition by numeric identifier.
func (d *Database) FrameByID(id uint32) (*Frame, bool) {
	f, ok := d.byID[id]
	return f, ok
}

// FrameCount returns the number of frames in the schema.
func (d *Database) FrameCount() int {
	return len(d.byName)
}

// Name returns the frame name.
func (f *Frame) Name() string { return f.desc.Name }

// ID returns the numeric frame identifier.
func (f *Frame) ID() uint32 { return f.desc.ID }

// IsExtended reports whether the frame uses a 29-bit identifier.
func (f *Frame) IsExtended() bool { return f.desc.IsExtended }

// Length returns the frame's payload length in bytes.
func (f *Frame) Length() uint8 { return f.desc.Length }

// SignalNames returns the names of all signals in the frame.
func (f *Frame) SignalNames() []string {
	names := make([]string, 0, len(f.desc.Signals))
	for _, sig := range f.desc.Signals {
		names = append(names, sig.Name)
	}
	return names
}

// Encode packs physical signal values into a frame. Every key in values
// must name a signal of this frame and lie within the signal's physical
// range; the byte length and identifier come from the schema.
func (f *Frame) Encode(values map[string]float64) (can.Frame, error) {
	var data can.Data

	for name, value := range values {
		sig, ok := f.signals[name]
		if !ok {
			return can.Frame{}, errors.WrapInvalid(
				fmt.Errorf("%w: frame %s has no signal %q",
					errors.ErrEncodeFailed, f.desc.Name, name),
				"schema", "Encode", "signal lookup")
		}
		if err := checkRange(sig, value); err != nil {
			return can.Frame{}, errors.WrapInvalid(
				fmt.Errorf("%w: frame %s: %v", errors.ErrEncodeFailed, f.desc.Name, err),
				"schema", "Encode", "range validation")
		}

		raw := math.Round(sig.FromPhysical(value))
		if sig.IsSigned {
			sig.MarshalSigned(&data, int64(raw))
		} else {
			sig.MarshalUnsigned(&data, uint64(raw))
		}
	}

	return can.Frame{
		ID:         f.desc.ID,
		Length:     f.desc.Length,
		Data:       data,
		IsExtended: f.desc.IsExtended,
	}, nil
}

// Decode unpacks a frame into physical signal values.
func (f *Frame) Decode(frm can.Frame) (map[string]float64, error) {
	if frm.Length != f.desc.Length {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: frame %s expects %d bytes, got %d",
				errors.ErrDecodeFailed, f.desc.Name, f.desc.Length, frm.Length),
			"schema", "Decode", "length validation")
	}

	values := make(map[string]float64, len(f.desc.Signals))
	for _, sig := range f.desc.Signals {
		v := sig.UnmarshalPhysical(frm.Data)
		if err := checkRange(sig, v); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: frame %s: %v", errors.ErrDecodeFailed, f.desc.Name, err),
				"schema", "Decode", "range validation")
		}
		values[sig.Name] = v
	}
	return values, nil
}

// checkRange enforces the signal's physical [Min, Max] range. A zero
// Min and Max means the DBC left the range unset.
func checkRange(sig *descriptor.Signal, value float64) error {
	if sig.Min == 0 && sig.Max == 0 {
		return nil
	}
	if value < sig.Min || value > sig.Max {
		return fmt.Errorf("signal %s value %g outside [%g, %g]",
			sig.Name, value, sig.Min, sig.Max)
	}
	return nil
}
