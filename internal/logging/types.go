package logging

import "time"

// Event types written to event_log.
const (
	EventRunStart     = "run_start"
	EventRunEnd       = "run_end"
	EventPerturbation = "perturbation"
	EventRestore      = "restore"

	// Written by interactive sessions.
	EventForceState   = "force_state"
	EventSetInertia   = "set_inertia"
	EventExternalStep = "external_step"
)

// #region event-entry
// EventEntry is a single row in the event_log table.
type EventEntry struct {
	RunID      string
	Tick       int
	EventType  string
	Name       string
	DetailJSON string
	CreatedAt  time.Time
}
// #endregion event-entry

// #region config
// Config selects the log level and output format.
type Config struct {
	Level  string `mapstructure:"level" yaml:"level"` // debug | info | warn | error
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// DefaultConfig logs at info level as console text.
func DefaultConfig() Config {
	return Config{Level: "info", Pretty: true}
}
// #endregion config
