package driver

// state is the driver's position in its state machine: one step per
// observed trace-stop. It is a three-state reduction of the original
// design's five: since the driver now performs the unprotect/retry/
// reprotect cycle itself via remote syscall injection instead of
// routing the fault signal through the tracee's own handler, there is
// no longer a separate "signal the tracee" / "wait for that signal to
// land" pair of states — the notify signal is injected directly on
// the same PTRACE_CONT that resumes the tracee.
type state int

const (
	// startUp is the state right after spawning the tracee, before
	// the first exec-stop has been consumed.
	startUp state = iota
	// waitFault waits for a fault-signal stop on a page the driver
	// knows is watched. Any other signal, or a fault on a page nothing
	// has armed, is forwarded unchanged.
	waitFault
	// singleStep steps the tracee, with the faulting page already made
	// writable, one instruction at a time until its program counter
	// moves away from the address sampled when the fault was observed
	// — the portable proxy for "the trapped write retired."
	singleStep
)

func (s state) String() string {
	switch s {
	case startUp:
		return "start_up"
	case waitFault:
		return "wait_fault"
	case singleStep:
		return "single_step"
	default:
		return "unknown"
	}
}
