package gearman

import "strconv"

// RegisterFunction installs handler for name and sends can_do(name) (C7).
// The first call on any Endpoint flips IsWorker and kicks off the
// grab_job/sleep loop; the flag never reverts.
func (e *Endpoint) RegisterFunction(name string, handler WorkerFunc) error {
	e.workerFuncs[name] = handler

	first := !e.isWorker
	e.isWorker = true

	if e.state != Ready {
		return nil
	}

	if err := e.write(Pack(PacketCanDo, []byte(name))); err != nil {
		return err
	}

	if first {
		return e.sendGrabJob()
	}
	return nil
}

// resendWorkerState re-announces every registered function and resumes the
// grab_job loop after a reconnect. spec.md is silent on worker state across
// reconnects (only options are named as persistent, §4.1); a worker that
// stayed silent about its functions after a reconnect would simply never
// receive work again, so this mirrors the option-resend behavior for
// worker_funcs too.
func (e *Endpoint) resendWorkerState() {
	if !e.isWorker {
		return
	}
	for name := range e.workerFuncs {
		if err := e.write(Pack(PacketCanDo, []byte(name))); err != nil {
			return
		}
	}
	e.sendGrabJob()
}

func (e *Endpoint) sendGrabJob() error {
	return e.write(Pack(PacketGrabJob, nil))
}

func (e *Endpoint) sendPreSleep() error {
	return e.write(Pack(PacketPreSleep, nil))
}

func (e *Endpoint) sendWorkComplete(handle string, payload []byte) error {
	return e.write(Pack(PacketWorkComplete, joinNul(handle, payload)))
}

func (e *Endpoint) sendWorkFail(handle string) error {
	return e.write(Pack(PacketWorkFail, []byte(handle)))
}

func (e *Endpoint) sendWorkStatus(handle string, num, den int) error {
	payload := joinNul3(handle, []byte(strconv.Itoa(num)), []byte(strconv.Itoa(den)))
	return e.write(Pack(PacketWorkStatus, payload))
}

func (e *Endpoint) onNoJob() error {
	return e.sendPreSleep()
}

func (e *Endpoint) onNoop() error {
	return e.sendGrabJob()
}

func (e *Endpoint) onJobAssign(payload []byte) error {
	parts := splitNulArgs(payload, 3)
	if len(parts) < 2 {
		return ErrProtocolViolation
	}
	handle := string(parts[0])
	function := string(parts[1])
	var jobPayload []byte
	if len(parts) > 2 {
		jobPayload = parts[2]
	}

	handler, ok := e.workerFuncs[function]
	if !ok {
		if err := e.sendWorkFail(handle); err != nil {
			return err
		}
		return e.sendGrabJob()
	}

	handler(&Job{Function: function, Payload: jobPayload, Handle: handle, endpoint: e})
	return e.sendGrabJob()
}

func joinNul(handle string, payload []byte) []byte {
	buf := make([]byte, 0, len(handle)+1+len(payload))
	buf = append(buf, handle...)
	buf = append(buf, 0)
	buf = append(buf, payload...)
	return buf
}

func joinNul3(handle string, a, b []byte) []byte {
	buf := make([]byte, 0, len(handle)+1+len(a)+1+len(b))
	buf = append(buf, handle...)
	buf = append(buf, 0)
	buf = append(buf, a...)
	buf = append(buf, 0)
	buf = append(buf, b...)
	return buf
}
