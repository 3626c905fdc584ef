package gearman

// handlePacket is the packet router (C8), bound to Endpoint.parser in
// NewEndpoint. It classifies each inbound packet by type and current mode
// and dispatches to the tracker (C5), negotiator (C6), or worker (C7).
// Any packet that reaches the default case is fatal per §4.5/§7.
func (e *Endpoint) handlePacket(pkt Packet) error {
	switch pkt.Type {
	case PacketJobCreated:
		return e.onJobCreated(pkt.Payload)
	case PacketWorkFail:
		return e.onWorkFail(pkt.Payload)
	case PacketWorkComplete:
		return e.onWorkComplete(pkt.Payload)
	case PacketWorkStatus:
		return e.onWorkStatus(pkt.Payload)
	case PacketWorkException:
		return e.onWorkException(pkt.Payload)
	case PacketError:
		if len(e.requests) > 0 {
			return e.onOptionError()
		}
		return ErrUnknownPacket
	case PacketOptionRes:
		return e.onOptionRes()
	}

	if e.isWorker {
		switch pkt.Type {
		case PacketNoJob:
			return e.onNoJob()
		case PacketJobAssign, PacketJobAssignUniq:
			return e.onJobAssign(pkt.Payload)
		case PacketNoop:
			return e.onNoop()
		}
	}

	return ErrUnknownPacket
}
