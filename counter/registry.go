// Package counter implements the acquisition engine for hardware timed,
// multi-channel counting on an NI660x card.
//
// The engine is framework agnostic.  A Registry maps logical axes to channel
// names and carries the per-channel position capture settings; a Session is
// the acquisition state machine which arms, starts, polls and reads channels
// through a Remote.  Adapters for a host framework live elsewhere.
package counter

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultFormula is the formula a channel starts with
const DefaultFormula = "start + pos"

// Parameter keys recognized by Registry.Configure and Registry.Query
const (
	KeyPositionCapture = "positionCapture"
	KeyPositionStart   = "positionStart"
	KeyPositionFormula = "positionFormula"
)

// Channel is one counter channel on the card, bound to a logical axis
type Channel struct {
	// Name is the channel name known by the remote service
	Name string `json:"name"`

	// Axis is the 1-based logical axis number
	Axis int `json:"axis"`
}

// ChannelConfig holds the position capture settings of a channel
type ChannelConfig struct {
	// PositionCapture turns raw counts into positions with the formula
	PositionCapture bool `json:"positionCapture"`

	// PositionStart is bound to "start" in the formula
	PositionStart float64 `json:"positionStart"`

	// PositionFormula is an arithmetic expression of pos and start
	PositionFormula string `json:"positionFormula"`
}

// DefaultChannelConfig returns the configuration of a freshly added channel
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{PositionFormula: DefaultFormula}
}

// Registry maps axis numbers to channels and their configuration.
// It is not concurrent safe; the owner serializes access.
type Registry struct {
	names    []string
	channels map[int]Channel
	configs  map[string]*ChannelConfig
}

// NewRegistry creates a registry over the channel names configured for the
// controller.  Axis n maps to names[n-1].
func NewRegistry(names []string) *Registry {
	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			cleaned = append(cleaned, n)
		}
	}
	return &Registry{
		names:    cleaned,
		channels: make(map[int]Channel),
		configs:  make(map[string]*ChannelConfig),
	}
}

// ParseChannelNames splits a comma separated channel list, dropping blanks
func ParseChannelNames(csv string) []string {
	var out []string
	for _, n := range strings.Split(csv, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Names returns the configured channel names, in axis order
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Add creates the channel behind an axis with the default configuration.
// Adding an axis twice resets its configuration.
func (r *Registry) Add(axis int) (Channel, error) {
	if axis < 1 || axis > len(r.names) {
		return Channel{}, fmt.Errorf("axis %d of %d configured channels: %w", axis, len(r.names), ErrUnknownAxis)
	}
	ch := Channel{Name: r.names[axis-1], Axis: axis}
	r.channels[axis] = ch
	cfg := DefaultChannelConfig()
	r.configs[ch.Name] = &cfg
	return ch, nil
}

// Remove forgets an axis
func (r *Registry) Remove(axis int) {
	ch, ok := r.channels[axis]
	if !ok {
		return
	}
	delete(r.channels, axis)
	delete(r.configs, ch.Name)
}

// Get returns the channel behind an axis
func (r *Registry) Get(axis int) (Channel, error) {
	ch, ok := r.channels[axis]
	if !ok {
		return Channel{}, fmt.Errorf("axis %d: %w", axis, ErrUnknownAxis)
	}
	return ch, nil
}

// Axes returns the added axes in ascending order
func (r *Registry) Axes() []int {
	out := make([]int, 0, len(r.channels))
	for i := 1; i <= len(r.names); i++ {
		if _, ok := r.channels[i]; ok {
			out = append(out, i)
		}
	}
	return out
}

// Config returns a copy of the configuration of a channel by name.
// Unknown channels get the default configuration.
func (r *Registry) Config(name string) ChannelConfig {
	cfg, ok := r.configs[name]
	if !ok {
		return DefaultChannelConfig()
	}
	return *cfg
}

// normalizeKey folds the spellings positionCapture, position_capture and
// PositionCapture to the same key
func normalizeKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", ""))
}

// Configure sets one parameter of an axis.  The formula is stored as is;
// it is only checked when it is evaluated.
func (r *Registry) Configure(axis int, key string, value interface{}) error {
	ch, err := r.Get(axis)
	if err != nil {
		return err
	}
	cfg := r.configs[ch.Name]
	switch normalizeKey(key) {
	case normalizeKey(KeyPositionCapture):
		b, err := toBool(value)
		if err != nil {
			return fmt.Errorf("%s=%v: %w", key, value, err)
		}
		cfg.PositionCapture = b
	case normalizeKey(KeyPositionStart):
		f, err := toFloat(value)
		if err != nil {
			return fmt.Errorf("%s=%v: %w", key, value, err)
		}
		cfg.PositionStart = f
	case normalizeKey(KeyPositionFormula):
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s=%v: %w", key, value, ErrInvalidValue)
		}
		cfg.PositionFormula = s
	default:
		return fmt.Errorf("%s: %w", key, ErrUnknownParameter)
	}
	return nil
}

// Query returns one parameter of an axis
func (r *Registry) Query(axis int, key string) (interface{}, error) {
	ch, err := r.Get(axis)
	if err != nil {
		return nil, err
	}
	cfg := r.configs[ch.Name]
	switch normalizeKey(key) {
	case normalizeKey(KeyPositionCapture):
		return cfg.PositionCapture, nil
	case normalizeKey(KeyPositionStart):
		return cfg.PositionStart, nil
	case normalizeKey(KeyPositionFormula):
		return cfg.PositionFormula, nil
	default:
		return nil, fmt.Errorf("%s: %w", key, ErrUnknownParameter)
	}
}

func toBool(v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, ErrInvalidValue
		}
		return b, nil
	case int:
		return t != 0, nil
	case float64:
		return t != 0, nil
	}
	return false, ErrInvalidValue
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, ErrInvalidValue
		}
		return f, nil
	}
	return 0, ErrInvalidValue
}
