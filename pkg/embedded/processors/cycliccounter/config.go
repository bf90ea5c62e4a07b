package cycliccounter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wehubfusion/cyclecounter/pkg/counter"
	"github.com/wehubfusion/cyclecounter/pkg/embedded/runtime"
)

// Settings is the node configuration stored in NodeConfig.Config.
type Settings struct {
	Mode           string `json:"mode"`
	Start          int64  `json:"start"`
	End            int64  `json:"end"`
	Step           int64  `json:"step"`
	GroupKey       string `json:"group_key"`
	Reset          bool   `json:"reset"`
	ResetCycleOnly bool   `json:"reset_cycle_only"`
	// InstanceID replaces the node id as the fallback counter key.
	InstanceID string `json:"instance_id"`
}

// DefaultSettings returns the settings of an unconfigured node.
func DefaultSettings() Settings {
	d := counter.DefaultConfig()
	return Settings{
		Mode:  string(d.Mode),
		Start: d.Start,
		End:   d.End,
		Step:  d.Step,
	}
}

// ParseSettings decodes raw over DefaultSettings. Keys absent from raw keep
// their defaults.
func ParseSettings(raw json.RawMessage) (Settings, error) {
	s := DefaultSettings()
	if len(raw) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(raw, &s); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Settings{}, counter.NewConfigurationError(typeErr.Field, typeErr.Value, fmt.Sprintf("must be a %s", typeErr.Type))
		}
		return Settings{}, counter.NewConfigurationError("", nil, fmt.Sprintf("failed to parse configuration: %v", err))
	}
	return s, nil
}

// WithOverrides returns a copy of s with every recognized key of data applied.
// Unrecognized keys are ignored so upstream nodes can pass through extra data.
func (s Settings) WithOverrides(data map[string]interface{}) (Settings, error) {
	for key, v := range data {
		var err error
		switch key {
		case "mode":
			s.Mode, err = asString(key, v)
		case "group_key":
			s.GroupKey, err = asString(key, v)
		case "instance_id":
			s.InstanceID, err = asString(key, v)
		case "start":
			s.Start, err = asInt(key, v)
		case "end":
			s.End, err = asInt(key, v)
		case "step":
			s.Step, err = asInt(key, v)
		case "reset":
			s.Reset, err = asBool(key, v)
		case "reset_cycle_only":
			s.ResetCycleOnly, err = asBool(key, v)
		}
		if err != nil {
			return Settings{}, err
		}
	}
	return s, nil
}

// Counter converts s to an engine configuration and validates it.
func (s Settings) Counter() (counter.Config, error) {
	mode, err := counter.ParseMode(s.Mode)
	if err != nil {
		return counter.Config{}, err
	}

	cfg := counter.Config{
		Mode:           mode,
		Start:          s.Start,
		End:            s.End,
		Step:           s.Step,
		GroupKey:       s.GroupKey,
		Reset:          s.Reset,
		ResetCycleOnly: s.ResetCycleOnly,
	}
	if err := cfg.Validate(); err != nil {
		return counter.Config{}, err
	}
	return cfg, nil
}

// InstanceKey returns the fallback identity of nodeID under these settings.
func (s Settings) InstanceKey(nodeID string) string {
	if id := strings.TrimSpace(s.InstanceID); id != "" {
		return id
	}
	return nodeID
}

func asString(key string, v interface{}) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	}
	return "", counter.NewConfigurationError(key, v, "must be a string")
}

func asInt(key string, v interface{}) (int64, error) {
	if i, ok := runtime.AsInt64(v); ok {
		return i, nil
	}
	return 0, counter.NewConfigurationError(key, v, "must be an integer")
}

func asBool(key string, v interface{}) (bool, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	}
	return false, counter.NewConfigurationError(key, v, "must be a boolean")
}
