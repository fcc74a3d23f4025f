//go:build !linux

package transport

// VSock is only available on Linux.
type VSock struct {
	port uint32
}

func NewVSock(port uint32) (*VSock, error) {
	if port == 0 {
		return nil, ErrPortRange
	}
	return &VSock{port: port}, nil
}

func (v *VSock) Init() error              { return ErrUnsupported }
func (v *VSock) Shutdown() error          { return nil }
func (v *VSock) WaitForConnection() error { return ErrUnsupported }
func (v *VSock) Connected() bool          { return false }

func (v *VSock) Read(p []byte) (int, error)  { return 0, ErrUnsupported }
func (v *VSock) Write(p []byte) (int, error) { return 0, ErrUnsupported }
