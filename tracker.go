package gearman

import "bytes"

// AddTask submits task on e, which must be Ready (C5). task's submit
// packet is written verbatim and a weak reference is queued in need_handle
// until the server replies job_created. AddTask is a package-level
// generic function, not a method, because Go methods cannot carry their
// own type parameters — it is this shape that lets a single Endpoint track
// tasks of differing concrete types while only ever holding them weakly
// until a handle is assigned.
func AddTask[U any, P TaskPtr[U]](e *Endpoint, task P) error {
	if e.state != Ready {
		return ErrNotReady
	}

	if err := e.write(task.SubmitPacketBytes()); err != nil {
		return err
	}

	e.needHandle = append(e.needHandle, newWeakTask[U, P](task))
	return nil
}

// GiveUpOn best-effort removes task from tracking (cancellation, §5). It
// never talks to the server; a reply that later arrives for the task's
// handle is silently discarded by onWorkComplete/onWorkFail/etc.
func (e *Endpoint) GiveUpOn(task Task) error {
	for i, wt := range e.needHandle {
		if wt.get() == task {
			e.needHandle = append(e.needHandle[:i], e.needHandle[i+1:]...)
			return nil
		}
	}

	if handle, ok := e.task2handle[task]; ok {
		tasks := e.waiting[handle]
		for i, t := range tasks {
			if t == task {
				tasks = append(tasks[:i], tasks[i+1:]...)
				break
			}
		}
		if len(tasks) == 0 {
			delete(e.waiting, handle)
		} else {
			e.waiting[handle] = tasks
		}
		delete(e.task2handle, task)
		return nil
	}

	return ErrTaskReclaimed
}

func (e *Endpoint) onJobCreated(payload []byte) error {
	if len(e.needHandle) == 0 {
		return ErrNoHandle
	}

	wt := e.needHandle[0]
	e.needHandle = e.needHandle[1:]

	handle := string(payload)
	task := wt.get()
	if task == nil {
		// Referent reclaimed between AddTask and job_created; the handle
		// is leaked server-side, which is acceptable per §4.2.
		e.logger.Printf("gearman: %s: job_created %q for a reclaimed task dropped", e.hostspec, handle)
		return nil
	}

	e.task2handle[task] = handle
	e.waiting[handle] = append(e.waiting[handle], task)
	return nil
}

func splitNulArgs(payload []byte, n int) [][]byte {
	parts := bytes.SplitN(payload, []byte{0}, n)
	return parts
}

func (e *Endpoint) onWorkComplete(payload []byte) error {
	parts := splitNulArgs(payload, 2)
	if len(parts) < 2 {
		return ErrProtocolViolation
	}
	handle := string(parts[0])
	result := parts[1]

	tasks, ok := e.waiting[handle]
	if !ok || len(tasks) == 0 {
		return nil
	}

	task := tasks[0]
	tasks = tasks[1:]
	if len(tasks) == 0 {
		delete(e.waiting, handle)
	} else {
		e.waiting[handle] = tasks
	}
	delete(e.task2handle, task)

	task.Complete(result)
	return nil
}

func (e *Endpoint) onWorkFail(payload []byte) error {
	handle := string(payload)

	tasks, ok := e.waiting[handle]
	if !ok || len(tasks) == 0 {
		return nil
	}

	task := tasks[0]
	tasks = tasks[1:]
	if len(tasks) == 0 {
		delete(e.waiting, handle)
	} else {
		e.waiting[handle] = tasks
	}
	delete(e.task2handle, task)

	task.Fail()
	return nil
}

func (e *Endpoint) onWorkStatus(payload []byte) error {
	parts := splitNulArgs(payload, 3)
	if len(parts) < 3 {
		return ErrProtocolViolation
	}
	handle := string(parts[0])
	num := atoiSafe(parts[1])
	den := atoiSafe(parts[2])

	for _, task := range e.waiting[handle] {
		task.Status(num, den)
	}
	return nil
}

func (e *Endpoint) onWorkException(payload []byte) error {
	parts := splitNulArgs(payload, 2)
	if len(parts) < 2 {
		return ErrProtocolViolation
	}
	handle := string(parts[0])
	exc := parts[1]

	tasks, ok := e.waiting[handle]
	if !ok || len(tasks) == 0 {
		return nil
	}

	tasks[0].Exception(exc)
	return nil
}

func atoiSafe(b []byte) int {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
