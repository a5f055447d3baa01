package actuator

// FakeCommander records commands for test assertions.
type FakeCommander struct {
	// PumpCommands contains every SetPump call in order.
	PumpCommands []bool

	// Statuses contains every published status in order.
	Statuses []Status

	// SetPumpError, if set, is returned by SetPump.
	SetPumpError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeCommander creates a FakeCommander for testing.
func NewFakeCommander() *FakeCommander {
	return &FakeCommander{}
}

// SetPump records the pump command.
func (f *FakeCommander) SetPump(on bool) error {
	if f.SetPumpError != nil {
		return f.SetPumpError
	}

	f.PumpCommands = append(f.PumpCommands, on)

	return nil
}

// PublishStatus records the status.
func (f *FakeCommander) PublishStatus(status Status) error {
	f.Statuses = append(f.Statuses, status)

	return nil
}

// Close marks the commander as closed.
func (f *FakeCommander) Close() error {
	f.Closed = true

	return nil
}

// PumpOn reports the last commanded pump state, defaulting to off.
func (f *FakeCommander) PumpOn() bool {
	if len(f.PumpCommands) == 0 {
		return false
	}

	return f.PumpCommands[len(f.PumpCommands)-1]
}

// Reset clears recorded commands.
func (f *FakeCommander) Reset() {
	f.PumpCommands = nil
	f.Statuses = nil
	f.Closed = false
	f.SetPumpError = nil
}
