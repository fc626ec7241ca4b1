package counter

import (
	"encoding/json"
	"fmt"
)

// AxisState is the coarse state reported to the host framework
type AxisState int

const (
	// Ready means a new acquisition may be started
	Ready AxisState = iota
	// Acquiring means the card or the controller is still busy
	Acquiring
)

// Status messages
const (
	StatusReady    = "The system is ready to acquire"
	StatusCounting = "The card(s) are acquiring"
	StatusDraining = "The card(s) finished but the controller is acquiring"
)

func (a AxisState) String() string {
	if a == Acquiring {
		return "Acquiring"
	}
	return "Ready"
}

// MarshalJSON encodes the state by name
func (a AxisState) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// Status reports the state of one channel.  An operator abort wins over
// anything the card says.
func (s *Session) Status(name string) (AxisState, string, error) {
	if s.stopped {
		return Ready, StatusReady, nil
	}
	done, err := s.remote.IsChannelDone(name)
	if err != nil {
		return Ready, "", err
	}
	if !done {
		return Acquiring, StatusCounting, nil
	}
	if s.mode == SingleBurst && s.samples > 1 && s.tracker.behind(s.armedNames(), s.samples) {
		return Acquiring, StatusDraining, nil
	}
	return Ready, StatusReady, nil
}

// UnmarshalJSON decodes a state from its name
func (a *AxisState) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "Ready":
		*a = Ready
	case "Acquiring":
		*a = Acquiring
	default:
		return fmt.Errorf("axis state %q: %w", s, ErrInvalidValue)
	}
	return nil
}
