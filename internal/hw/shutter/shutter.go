package shutter

import "fmt"

// State is the position of a laser shutter.
type State int

const (
	Unknown State = iota
	In            // blocked: the shutter is inserted in the beam
	Out           // open: the pulse is used
)

func (s State) String() string {
	switch s {
	case In:
		return "IN"
	case Out:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets states appear as "IN"/"OUT" in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Shutter is a two-state optical shutter. Open and Block are idempotent.
type Shutter interface {
	Name() string
	Open() error
	Block() error
	ReadState() (State, error)
}

// Move opens the shutter when open is true, otherwise blocks it.
func Move(s Shutter, open bool) error {
	if open {
		return s.Open()
	}
	return s.Block()
}

// Status is a read-only snapshot of one shutter.
type Status struct {
	Name  string `json:"name"`
	State State  `json:"state"`
	Err   string `json:"error,omitempty"`
}

func (s Status) String() string {
	if s.Err != "" {
		return fmt.Sprintf("%s: %s (%s)", s.Name, s.State, s.Err)
	}
	return fmt.Sprintf("%s: %s", s.Name, s.State)
}
