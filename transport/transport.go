package transport

import "errors"

var (
	ErrAlreadyInit  = errors.New("transport already initialized")
	ErrNotListening = errors.New("transport not listening")
	ErrNotConnected = errors.New("transport not connected")
	ErrClosed       = errors.New("transport closed")
	ErrPortRange    = errors.New("port outside [1, 65535]")
	ErrUnsupported  = errors.New("transport unsupported on this platform")
)

// Transport is the raw byte link between the stub and a debugger client.
// Implementations provide an ordered, reliable stream; framing, checksums
// and retransmission live one layer up in the protocol codec.
type Transport interface {
	Init() error
	Shutdown() error
	// WaitForConnection blocks until a peer is available. Listener-style
	// transports accept here; point-to-point transports return immediately
	// once their device is open.
	WaitForConnection() error
	Connected() bool
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}
