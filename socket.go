package ice

// Socket sends raw bytes to a peer transport address. The host owns the
// actual network connection (spec §1: "the RTP session (sockets, packet
// I/O ...)" is an external collaborator); the engine only ever calls Send.
type Socket interface {
	Send(b []byte, addr TransportAddress) error
}

// ComponentSockets resolves the outbound socket for a component ID, per
// spec §6: "get_rtp_socket(session) / get_rtcp_socket(session) — used by
// componentID 1 / 2 respectively; other component IDs are unsupported."
type ComponentSockets interface {
	Socket(component ComponentID) (Socket, bool)
}

// staticSockets is a trivial ComponentSockets backed by a fixed map, handy
// for tests (cmd/ice-agent uses its own namedSockets map instead).
type staticSockets map[ComponentID]Socket

// NewStaticSockets builds a ComponentSockets from an RTP and RTCP socket;
// either may be nil if that component is not in use.
func NewStaticSockets(rtp, rtcp Socket) ComponentSockets {
	m := staticSockets{}
	if rtp != nil {
		m[ComponentRTP] = rtp
	}
	if rtcp != nil {
		m[ComponentRTCP] = rtcp
	}
	return m
}

func (m staticSockets) Socket(component ComponentID) (Socket, bool) {
	s, ok := m[component]
	return s, ok
}
