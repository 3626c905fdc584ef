package gearman

var (
	// ErrNoAddress indicates that no address, channel or factory was provided to connect to.
	ErrNoAddress = &Error{"no address provided"}

	// ErrNotReady indicates that an operation requiring state Ready was attempted
	// while the endpoint was Disconnected or Connecting.
	ErrNotReady = &Error{"endpoint not ready"}

	// ErrDeadEndpoint indicates a connect attempt while the endpoint is within
	// its dead interval.
	ErrDeadEndpoint = &Error{"endpoint is dead"}

	// ErrProtocolViolation indicates a frame without the \0RES magic, or a
	// work_complete, work_status, work_exception or job_assign payload that
	// lacks the NUL-separated arguments it requires.
	ErrProtocolViolation = &Error{"protocol violation"}

	// ErrUnknownPacket indicates a well-formed frame whose type the packet
	// router has no handler for in the endpoint's current mode.
	ErrUnknownPacket = &Error{"unknown packet type"}

	// ErrNoHandle indicates a job_created arrived with an empty need_handle
	// queue, which the protocol guarantees should never happen.
	ErrNoHandle = &Error{"job_created with no pending task"}

	// ErrTaskReclaimed is surfaced to callers of GiveUpOn for a task already
	// dropped from the endpoint's bookkeeping.
	ErrTaskReclaimed = &Error{"task no longer tracked"}
)

// Error represents an error in the gearman package.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
