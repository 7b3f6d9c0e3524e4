package connector

import (
	"fmt"
	"maps"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/pkg/buffer"
	"github.com/c360/rtlink/transport"
)

// Recognized configuration keys
const (
	KeyTransport    = "interface_type"
	KeyMarshaling   = "marshaling_type"
	KeyTopic        = "topic"
	KeyDataType     = "data_type"
	KeyCapacity     = "buffer.length"
	KeyFullPolicy   = "buffer.write.full_policy"
	KeyWriteTimeout = "buffer.write.timeout"
	KeyPublisher    = "publisher.type"
	KeyReadBlock    = "read_block"
)

// Publisher modes
const (
	// PublisherFlush sends on the pushing goroutine. Push then also waits for
	// the transport, so it may take longer than the write timeout.
	PublisherFlush = "flush"
	// PublisherAsync sends on a dedicated goroutine; Push only waits on the
	// local buffer. This is the default.
	PublisherAsync = "async"
)

// DefaultCapacity is the buffer length when none is configured
const DefaultCapacity = 8

// aliases map accepted spellings onto canonical keys
var aliases = map[string]string{
	"transport":                KeyTransport,
	"buffer.capacity":          KeyCapacity,
	"length":                   KeyCapacity,
	"capacity":                 KeyCapacity,
	"write.timeout":            KeyWriteTimeout,
	"write.full_policy":        KeyFullPolicy,
	"buffer.read.empty_policy": KeyReadBlock,
	"read.empty_policy":        KeyReadBlock,
}

// overwrite shorthands, true meaning the overwrite policy
var overwriteKeys = []string{"buffer.overwrite", "overwrite"}

// Options is the decoded connector configuration
type Options struct {
	Transport    string        `mapstructure:"interface_type"`
	Marshaling   string        `mapstructure:"marshaling_type"`
	Topic        string        `mapstructure:"topic"`
	DataType     string        `mapstructure:"data_type"`
	Capacity     int           `mapstructure:"buffer.length"`
	FullPolicy   string        `mapstructure:"buffer.write.full_policy"`
	WriteTimeout time.Duration `mapstructure:"buffer.write.timeout"`
	Publisher    string        `mapstructure:"publisher.type"`
	ReadBlock    string        `mapstructure:"read_block"`

	// Props holds <transport>.* keys with the prefix stripped
	Props map[string]string `mapstructure:"-"`

	policy buffer.OverflowPolicy
}

// Policy returns the effective overflow policy. A non-zero write timeout
// turns do_nothing into block.
func (o Options) Policy() buffer.OverflowPolicy {
	return o.policy
}

// canonicalize rewrites one Configure call's keys onto canonical names. Within a
// single call a canonical key wins over its aliases.
func canonicalize(in map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	explicit := make(map[string]bool)

	for k, v := range in {
		key := strings.TrimPrefix(strings.TrimSpace(k), "dataport.")
		if canon, ok := aliases[key]; ok && canon != key {
			if !explicit[canon] {
				out[canon] = v
			}
			continue
		}
		out[key] = v
		explicit[key] = true
	}

	for _, k := range overwriteKeys {
		v, ok := out[k]
		if !ok {
			continue
		}
		delete(out, k)
		if explicit[KeyFullPolicy] {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1", "on":
			out[KeyFullPolicy] = buffer.Overwrite.String()
		case "false", "no", "0", "off":
			out[KeyFullPolicy] = buffer.DoNothing.String()
		default:
			return nil, errors.BadParam("Connector", "Configure", fmt.Sprintf("%s: invalid boolean %q", k, v))
		}
	}
	return out, nil
}

func durationHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	if s, ok := data.(string); ok {
		return transport.ParseDuration(s)
	}
	return data, nil
}

// decodeOptions turns the merged raw map into Options
func decodeOptions(raw map[string]string) (Options, error) {
	var opts Options
	input := make(map[string]any, len(raw))
	for k, v := range raw {
		input[k] = v
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       durationHook,
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return Options{}, errors.WrapFatal(err, "Connector", "decodeOptions", "build decoder")
	}
	if err := dec.Decode(input); err != nil {
		return Options{}, errors.BadParam("Connector", "Configure", err.Error())
	}

	if opts.Transport != "" {
		prefix := opts.Transport + "."
		opts.Props = make(map[string]string)
		for k, v := range raw {
			if strings.HasPrefix(k, prefix) {
				opts.Props[strings.TrimPrefix(k, prefix)] = v
			}
		}
		if opts.Topic == "" {
			opts.Topic = opts.Props["topic"]
		}
	}

	if err := opts.normalize(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o *Options) normalize() error {
	switch {
	case o.Capacity == 0:
		o.Capacity = DefaultCapacity
	case o.Capacity < 0:
		return errors.BadParam("Connector", "Configure", fmt.Sprintf("%s must be at least 1, got %d", KeyCapacity, o.Capacity))
	}

	if o.WriteTimeout < 0 {
		return errors.BadParam("Connector", "Configure", fmt.Sprintf("%s must not be negative", KeyWriteTimeout))
	}

	policy, err := buffer.ParsePolicy(o.FullPolicy)
	if err != nil {
		return errors.BadParam("Connector", "Configure", err.Error())
	}
	if policy == buffer.DoNothing && o.WriteTimeout > 0 {
		policy = buffer.Block
	}
	o.policy = policy
	o.FullPolicy = policy.String()

	switch strings.ToLower(o.Publisher) {
	case "", PublisherAsync:
		o.Publisher = PublisherAsync
	case PublisherFlush:
		o.Publisher = PublisherFlush
	default:
		return errors.BadParam("Connector", "Configure", fmt.Sprintf("unknown %s %q", KeyPublisher, o.Publisher))
	}
	return nil
}

// mergeRaw returns base overlaid with update
func mergeRaw(base, update map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(update))
	maps.Copy(out, base)
	maps.Copy(out, update)
	return out
}
