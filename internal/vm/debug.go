package vm

// Snapshot is a point-in-time view of machine state, used by the debugger
// primitives below. There is no command-grammar REPL here, only the
// primitives a future front end would drive.
type Snapshot struct {
	Cursor           uint32
	MemoryUsed       int
	StackUsed        int
	CallStackUsed    int
	InstructionCount uint64
	ExitCode         int64
	Running          bool
}

// Snapshot captures the machine's current state.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		Cursor:           m.cursor,
		MemoryUsed:       m.MemoryUsed,
		StackUsed:        m.StackUsed,
		CallStackUsed:    m.CallStackUsed,
		InstructionCount: m.InstructionCount,
		ExitCode:         m.exitCode,
		Running:          m.running,
	}
}

// breakpointSet holds the code-stream offsets armed by SetBreakpoint.
// AtBreakpoint reports whether the cursor sits on one; StepOnce and Run do
// not consult it.
type breakpointSet map[uint32]bool

// SetBreakpoint arms a breakpoint at the given code-stream offset.
func (m *Machine) SetBreakpoint(addr uint32) {
	if m.breakpoints == nil {
		m.breakpoints = make(breakpointSet)
	}
	m.breakpoints[addr] = true
}

// ClearBreakpoint disarms a previously set breakpoint.
func (m *Machine) ClearBreakpoint(addr uint32) {
	delete(m.breakpoints, addr)
}

// StepOnce decodes and executes exactly one record, returning whether the
// machine is still running afterward.
func (m *Machine) StepOnce() (bool, error) {
	if !m.running {
		return false, nil
	}
	if m.cursor+18 > uint32(len(m.code)) {
		m.running = false
		return false, nil
	}
	rec, err := decodeRecord(m.code[m.cursor : m.cursor+18])
	if err != nil {
		return m.running, err
	}
	m.cursor += 18
	m.InstructionCount++
	if err := m.execute(rec); err != nil {
		return m.running, err
	}
	return m.running, nil
}

// AtBreakpoint reports whether the machine's current cursor has an armed
// breakpoint.
func (m *Machine) AtBreakpoint() bool {
	return m.breakpoints[m.cursor]
}
