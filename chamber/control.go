package chamber

// ControlKind tags a ControlMessage variant.
type ControlKind int

const (
	// ControlShutdown asks the supervisor to retire a chamber and delete its
	// persisted definition.
	ControlShutdown ControlKind = iota
	// ControlStartup asks the supervisor to persist a new chamber definition
	// and start a poll loop for it.
	ControlStartup
)

// ControlMessage travels from any chamber's command dispatcher to the
// supervisor over the shared control channel. Produced once, consumed once.
type ControlMessage struct {
	Kind     ControlKind
	Handle   string
	Username string // ControlStartup only
	Password string // ControlStartup only
	Host     string // ControlStartup only
}
