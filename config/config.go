package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/evm100/TritonCAN/errors"
)

// DefaultBitrate is assumed when a channel entry does not set one.
const DefaultBitrate = 500_000

// FilterConfig is a transport-level acceptance filter: a frame is
// delivered when (frame.ID & Mask) == (ID & Mask).
type FilterConfig struct {
	ID   uint32
	Mask uint32
}

// TxBindingConfig describes one outbound binding: an application payload
// encoded into a named schema frame. Fields maps friendly payload keys to
// schema signal names; when empty, payload keys are used as signal names
// directly.
type TxBindingConfig struct {
	Key      string
	Frame    string
	Fields   map[string]string
	Metadata map[string]any
}

// RxBindingConfig describes one inbound binding: a named schema frame
// decoded into an application payload. Fields maps schema signal names to
// friendly keys; when empty, decoded signals pass through unchanged.
type RxBindingConfig struct {
	Key      string
	Frame    string
	Fields   map[string]string
	Metadata map[string]any
}

// ChannelConfig describes a single bus channel. Immutable after load.
type ChannelConfig struct {
	Name       string
	Interface  string
	SchemaFile string // absolute after load
	Bitrate    int
	FD         bool
	DBitrate   int // only meaningful when FD is set
	Filters    []FilterConfig
	TxBindings map[string]TxBindingConfig
	RxBindings map[string]RxBindingConfig
	Metadata   map[string]any
}

// BridgeConfig is the full configuration describing one or more channels.
type BridgeConfig struct {
	Path     string // absolute path of the loaded file
	Channels []ChannelConfig
	Logging  map[string]any
	QoS      map[string]any
}

// Channel returns the channel with the given name.
func (c *BridgeConfig) Channel(name string) (*ChannelConfig, bool) {
	for i := range c.Channels {
		if c.Channels[i].Name == name {
			return &c.Channels[i], true
		}
	}
	return nil, false
}

// Keys recognized by the core; everything else lands in the metadata bag.
var channelKeys = map[string]bool{
	"name": true, "interface": true, "schema_file": true,
	"bitrate": true, "fd": true, "dbitrate": true, "filters": true,
	"tx_bindings": true, "rx_bindings": true,
}

var bindingKeys = map[string]bool{
	"frame": true, "fields": true,
}

// Load parses a YAML configuration file and returns a BridgeConfig.
// Relative schema paths are resolved against the directory containing the
// configuration file, never against the process working directory.
func Load(path string) (*BridgeConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "path resolution")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "file read")
	}

	var raw struct {
		Channels []map[string]any `yaml:"channels"`
		Logging  map[string]any   `yaml:"logging"`
		QoS      map[string]any   `yaml:"qos"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "yaml parse")
	}

	if len(raw.Channels) == 0 {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: no 'channels' entries", errors.ErrMissingConfig),
			"config", "Load", "channel list validation")
	}

	cfg := &BridgeConfig{
		Path:    absPath,
		Logging: raw.Logging,
		QoS:     raw.QoS,
	}

	seen := make(map[string]bool, len(raw.Channels))
	baseDir := filepath.Dir(absPath)

	for i, entry := range raw.Channels {
		ch, err := parseChannel(entry, baseDir, fmt.Sprintf("channels[%d]", i))
		if err != nil {
			return nil, err
		}
		if seen[ch.Name] {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: duplicate channel name %q", errors.ErrInvalidConfig, ch.Name),
				"config", "Load", "channel name validation")
		}
		seen[ch.Name] = true
		cfg.Channels = append(cfg.Channels, ch)
	}

	return cfg, nil
}

func parseChannel(entry map[string]any, baseDir, context string) (ChannelConfig, error) {
	var ch ChannelConfig

	for _, key := range []string{"name", "interface", "schema_file"} {
		if _, ok := entry[key]; !ok {
			return ch, errors.WrapFatal(
				fmt.Errorf("%w: %s missing required key %q", errors.ErrMissingConfig, context, key),
				"config", "Load", "channel validation")
		}
	}

	ch.Name = asString(entry["name"])
	ch.Interface = asString(entry["interface"])
	if ch.Name == "" || ch.Interface == "" {
		return ch, errors.WrapFatal(
			fmt.Errorf("%w: %s name and interface must be non-empty", errors.ErrInvalidConfig, context),
			"config", "Load", "channel validation")
	}

	schemaFile := asString(entry["schema_file"])
	if schemaFile == "" {
		return ch, errors.WrapFatal(
			fmt.Errorf("%w: %s schema_file must be non-empty", errors.ErrInvalidConfig, context),
			"config", "Load", "schema path validation")
	}
	if !filepath.IsAbs(schemaFile) {
		schemaFile = filepath.Join(baseDir, schemaFile)
	}
	schemaFile = filepath.Clean(schemaFile)
	if _, err := os.Stat(schemaFile); err != nil {
		return ch, errors.WrapFatal(
			fmt.Errorf("%w: %s schema file %s: %v", errors.ErrInvalidConfig, context, schemaFile, err),
			"config", "Load", "schema path validation")
	}
	ch.SchemaFile = schemaFile

	ch.Bitrate = DefaultBitrate
	if v, ok := entry["bitrate"]; ok {
		n, err := asInt(v)
		if err != nil || n <= 0 {
			return ch, errors.WrapFatal(
				fmt.Errorf("%w: %s bitrate must be a positive integer", errors.ErrInvalidConfig, context),
				"config", "Load", "bitrate validation")
		}
		ch.Bitrate = n
	}

	if v, ok := entry["fd"]; ok {
		b, ok := v.(bool)
		if !ok {
			return ch, errors.WrapFatal(
				fmt.Errorf("%w: %s fd must be a boolean", errors.ErrInvalidConfig, context),
				"config", "Load", "fd validation")
		}
		ch.FD = b
	}

	if v, ok := entry["dbitrate"]; ok {
		n, err := asInt(v)
		if err != nil || n <= 0 {
			return ch, errors.WrapFatal(
				fmt.Errorf("%w: %s dbitrate must be a positive integer", errors.ErrInvalidConfig, context),
				"config", "Load", "dbitrate validation")
		}
		if !ch.FD {
			return ch, errors.WrapFatal(
				fmt.Errorf("%w: %s dbitrate requires fd: true", errors.ErrInvalidConfig, context),
				"config", "Load", "dbitrate validation")
		}
		ch.DBitrate = n
	}

	if v, ok := entry["filters"]; ok {
		filters, err := parseFilters(v, context)
		if err != nil {
			return ch, err
		}
		ch.Filters = filters
	}

	ch.TxBindings = make(map[string]TxBindingConfig)
	if v, ok := entry["tx_bindings"]; ok {
		specs, err := asBindingMap(v, context+".tx_bindings")
		if err != nil {
			return ch, err
		}
		for key, spec := range specs {
			b, err := parseTxBinding(key, spec, fmt.Sprintf("%s.tx_bindings[%s]", context, key))
			if err != nil {
				return ch, err
			}
			ch.TxBindings[key] = b
		}
	}

	ch.RxBindings = make(map[string]RxBindingConfig)
	if v, ok := entry["rx_bindings"]; ok {
		specs, err := asBindingMap(v, context+".rx_bindings")
		if err != nil {
			return ch, err
		}
		for key, spec := range specs {
			b, err := parseRxBinding(key, spec, fmt.Sprintf("%s.rx_bindings[%s]", context, key))
			if err != nil {
				return ch, err
			}
			ch.RxBindings[key] = b
		}
	}

	ch.Metadata = make(map[string]any)
	for k, v := range entry {
		if !channelKeys[k] {
			ch.Metadata[k] = v
		}
	}

	return ch, nil
}

// parseTxBinding requires an explicit frame name: a send without a known
// target frame is meaningless.
func parseTxBinding(key string, spec map[string]any, context string) (TxBindingConfig, error) {
	b := TxBindingConfig{Key: key}

	b.Frame = asString(spec["frame"])
	if b.Frame == "" {
		return b, errors.WrapFatal(
			fmt.Errorf("%w: %s missing required key %q", errors.ErrMissingConfig, context, "frame"),
			"config", "Load", "tx binding validation")
	}

	fields, err := asStringMap(spec["fields"], context)
	if err != nil {
		return b, err
	}
	b.Fields = fields
	b.Metadata = bindingMetadata(spec)
	return b, nil
}

// parseRxBinding defaults the frame name to the binding key, matching the
// common case of one binding per received frame.
func parseRxBinding(key string, spec map[string]any, context string) (RxBindingConfig, error) {
	b := RxBindingConfig{Key: key}

	b.Frame = asString(spec["frame"])
	if b.Frame == "" {
		b.Frame = key
	}

	fields, err := asStringMap(spec["fields"], context)
	if err != nil {
		return b, err
	}
	b.Fields = fields
	b.Metadata = bindingMetadata(spec)
	return b, nil
}

func bindingMetadata(spec map[string]any) map[string]any {
	md := make(map[string]any)
	for k, v := range spec {
		if !bindingKeys[k] {
			md[k] = v
		}
	}
	return md
}

func parseFilters(v any, context string) ([]FilterConfig, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %s filters must be a list", errors.ErrInvalidConfig, context),
			"config", "Load", "filter validation")
	}

	filters := make([]FilterConfig, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: %s.filters[%d] must be a map", errors.ErrInvalidConfig, context, i),
				"config", "Load", "filter validation")
		}
		id, idErr := asInt(m["id"])
		mask, maskErr := asInt(m["mask"])
		if idErr != nil || maskErr != nil || id < 0 || mask < 0 {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: %s.filters[%d] requires non-negative integer id and mask",
					errors.ErrInvalidConfig, context, i),
				"config", "Load", "filter validation")
		}
		filters = append(filters, FilterConfig{ID: uint32(id), Mask: uint32(mask)})
	}
	return filters, nil
}

func asBindingMap(v any, context string) (map[string]map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %s must be a map of binding key to spec", errors.ErrInvalidConfig, context),
			"config", "Load", "binding validation")
	}

	out := make(map[string]map[string]any, len(m))
	for key, spec := range m {
		specMap, ok := spec.(map[string]any)
		if !ok {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: %s[%s] must be a map", errors.ErrInvalidConfig, context, key),
				"config", "Load", "binding validation")
		}
		out[key] = specMap
	}
	return out, nil
}

func asStringMap(v any, context string) (map[string]string, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %s fields must be a map of strings", errors.ErrInvalidConfig, context),
			"config", "Load", "field map validation")
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		s, ok := val.(string)
		if !ok {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: %s fields[%s] must be a string", errors.ErrInvalidConfig, context, k),
				"config", "Load", "field map validation")
		}
		out[k] = s
	}
	return out, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("not an integer: %v", v)
}
