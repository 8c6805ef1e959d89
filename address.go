package ice

import "fmt"

// TransportAddress is an IP literal and port pair. Equality is
// case-sensitive on the IP text and exact on the port, per RFC 5245
// symmetric-addressing checks.
type TransportAddress struct {
	IP   string
	Port int
}

// Equal reports whether a and b address the same transport endpoint.
func (a TransportAddress) Equal(b TransportAddress) bool {
	return a.IP == b.IP && a.Port == b.Port
}

func (a TransportAddress) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// IsZero reports whether a is the zero value.
func (a TransportAddress) IsZero() bool {
	return a.IP == "" && a.Port == 0
}

// ComponentID identifies a sub-stream within a media stream, 1..256.
type ComponentID int

// RTP and RTCP are the only component IDs the RTP/socket interface (§6)
// knows how to dispatch; a check list may still carry other component IDs
// in its data model without a socket behind them.
const (
	ComponentRTP  ComponentID = 1
	ComponentRTCP ComponentID = 2
)

func (c ComponentID) String() string {
	switch c {
	case ComponentRTP:
		return "rtp"
	case ComponentRTCP:
		return "rtcp"
	default:
		return fmt.Sprintf("component(%d)", int(c))
	}
}

// Valid reports whether c is in the RFC 5245 range [1, 256].
func (c ComponentID) Valid() bool {
	return c >= 1 && c <= 256
}

// HasSocket reports whether the RTP/socket interface (§6) supports this
// component ID; only RTP (1) and RTCP (2) are wired to a socket.
func (c ComponentID) HasSocket() bool {
	return c == ComponentRTP || c == ComponentRTCP
}
