package alarm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Mode is the operational mode of the monitored component.
// Any mode may follow any other; only the current value is recorded.
type Mode uint8

const (
	// ModeStartup means the component is starting.
	ModeStartup Mode = iota
	// ModeInitialization means the component is initialising.
	ModeInitialization
	// ModeClosing means the component is shutting down.
	ModeClosing
	// ModeShuttedDown means the component is stopped.
	ModeShuttedDown
	// ModeMaintenance means the component is under maintenance.
	ModeMaintenance
	// ModeOperational means the component works normally.
	ModeOperational
	// ModeDegraded means the component works with reduced capabilities.
	ModeDegraded
	// ModeUnknown means the mode could not be determined.
	ModeUnknown
)

// ErrUnknownMode is returned when a mode name or code is not recognised.
var ErrUnknownMode = errors.New("unknown operational mode")

//nolint:gochecknoglobals // Lookup table for mode names.
var modeNames = [...]string{
	ModeStartup:        "startup",
	ModeInitialization: "initialization",
	ModeClosing:        "closing",
	ModeShuttedDown:    "shuttedown",
	ModeMaintenance:    "maintenance",
	ModeOperational:    "operational",
	ModeDegraded:       "degraded",
	ModeUnknown:        "unknown",
}

// Modes returns every operational mode in code order.
func Modes() []Mode {
	modes := make([]Mode, len(modeNames))
	for i := range modeNames {
		modes[i] = Mode(i)
	}

	return modes
}

// String returns the lowercase mode name.
func (m Mode) String() string {
	if !m.IsValid() {
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}

	return modeNames[m]
}

// IsValid reports whether m is one of the declared modes.
func (m Mode) IsValid() bool {
	return int(m) < len(modeNames)
}

// ParseMode accepts either a mode name ("operational") or its numeric
// code ("5"), since the core reports modes both ways.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}

	code, err := strconv.Atoi(s)
	if err == nil && code >= 0 && code < len(modeNames) {
		return Mode(code), nil
	}

	return ModeUnknown, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, m)
	}

	return []byte(modeNames[m]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}

	*m = parsed

	return nil
}

// UnmarshalJSON accepts both quoted names and bare numeric codes.
func (m *Mode) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)

	return m.UnmarshalText([]byte(text))
}
