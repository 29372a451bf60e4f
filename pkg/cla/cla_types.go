package cla

// CLAType identifies which convergence-layer transport a registered
// EndpointID belongs to.
type CLAType uint

const (
	// TCP is the stream-oriented convergence layer: a 4-byte big-endian
	// length prefix followed by the CBOR-encoded bundle, per connection.
	TCP CLAType = iota

	// UDP is the datagram-oriented convergence layer: single-datagram
	// bundles carry a marker byte, oversized ones are split across
	// multiple fragment datagrams.
	UDP
)

func (t CLAType) String() string {
	switch t {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return "unknown"
	}
}
