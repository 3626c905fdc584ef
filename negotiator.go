package gearman

// resendOptions implements the C6 half of entering Ready: every currently
// enabled option is re-requested in the order it was first enabled, and
// requests is rebuilt to match (invariant 5).
func (e *Endpoint) resendOptions() {
	e.requests = nil
	for _, name := range e.optionOrder {
		if !e.options[name] {
			continue
		}
		if err := e.write(Pack(PacketOptionReq, []byte(name))); err != nil {
			return
		}
		e.requests = append(e.requests, name)
	}
}

func (e *Endpoint) onOptionRes() error {
	if len(e.requests) == 0 {
		return ErrUnknownPacket
	}
	e.requests = e.requests[1:]
	return nil
}

// onOptionError handles an error packet while an option ack is pending:
// the server refused the head of requests, so it is dropped from options
// and never retried (§4.3). The caller (router) only invokes this when
// requests is non-empty; an error with nothing pending falls through as a
// protocol violation.
func (e *Endpoint) onOptionError() error {
	name := e.requests[0]
	e.requests = e.requests[1:]
	delete(e.options, name)
	for i, n := range e.optionOrder {
		if n == name {
			e.optionOrder = append(e.optionOrder[:i], e.optionOrder[i+1:]...)
			break
		}
	}
	return nil
}
