package gearman

import "weak"

// Task is the collaborator contract an Endpoint holds against a pending or
// in-flight unit of work (C3). Implementations are expected to be backed by
// a pointer type so their identity is stable for use as a map key and so
// AddTask can take a weak reference to them.
type Task interface {
	// SubmitPacketBytes returns the already-encoded submit_* frame to write
	// verbatim to the wire.
	SubmitPacketBytes() []byte

	// Complete notifies the task that the server reported work_complete.
	Complete(payload []byte)

	// Fail notifies the task that the server reported work_fail, or that
	// the endpoint is re-failing it after a connection loss.
	Fail()

	// Status notifies the task of a work_status broadcast.
	Status(num, den int)

	// Exception notifies the task that the server reported work_exception.
	Exception(payload []byte)
}

// TaskPtr constrains a type parameter to be both a pointer to U and an
// implementation of Task, the shape required to take a weak.Pointer to the
// underlying allocation while still satisfying the Task interface.
type TaskPtr[U any] interface {
	*U
	Task
}

// weakTask is the type-erased handle AddTask installs into Endpoint.needHandle.
// It closes over a typed weak.Pointer so a single untyped queue can hold
// weak references to tasks of differing concrete types across the
// endpoint's lifetime.
type weakTask struct {
	resolve func() Task
}

func newWeakTask[U any, P TaskPtr[U]](task P) weakTask {
	wp := weak.Make((*U)(task))
	return weakTask{
		resolve: func() Task {
			p := wp.Value()
			if p == nil {
				return nil
			}
			return Task(P(p))
		},
	}
}

// get returns the live Task, or nil if the referent has been reclaimed.
func (w weakTask) get() Task {
	if w.resolve == nil {
		return nil
	}
	return w.resolve()
}
