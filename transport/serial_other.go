//go:build !linux

package transport

// Serial is only implemented for Linux termios devices.
type Serial struct {
	device string
}

func NewSerial(device string) *Serial {
	return &Serial{device: device}
}

func (s *Serial) Init() error              { return ErrUnsupported }
func (s *Serial) Shutdown() error          { return nil }
func (s *Serial) WaitForConnection() error { return ErrUnsupported }
func (s *Serial) Connected() bool          { return false }

func (s *Serial) Read(p []byte) (int, error)  { return 0, ErrUnsupported }
func (s *Serial) Write(p []byte) (int, error) { return 0, ErrUnsupported }
