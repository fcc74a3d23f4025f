//go:build linux

package transport

import (
	"sync"

	"golang.org/x/sys/unix"
)

// VSock listens on an AF_VSOCK stream socket, the host<->guest channel used
// when the debuggee runs inside a VM and no network device is configured.
type VSock struct {
	port uint32

	mu     sync.Mutex
	fd     int
	client int
	bound  bool
}

func NewVSock(port uint32) (*VSock, error) {
	if port == 0 {
		return nil, ErrPortRange
	}
	return &VSock{port: port, fd: -1, client: -1}, nil
}

func (v *VSock) Init() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bound {
		return ErrAlreadyInit
	}
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	sa := &unix.SockaddrVM{CID: unix.VMADDR_CID_ANY, Port: v.port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return err
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return err
	}
	v.fd = fd
	v.bound = true
	return nil
}

func (v *VSock) Shutdown() error {
	v.mu.Lock()
	fd, client := v.fd, v.client
	v.fd, v.client = -1, -1
	v.bound = false
	v.mu.Unlock()
	if client >= 0 {
		unix.Close(client)
	}
	if fd >= 0 {
		return unix.Close(fd)
	}
	return nil
}

func (v *VSock) WaitForConnection() error {
	v.mu.Lock()
	fd, bound := v.fd, v.bound
	v.mu.Unlock()
	if !bound {
		return ErrNotListening
	}
	nfd, _, err := unix.Accept(fd)
	if err != nil {
		return err
	}
	v.mu.Lock()
	if v.client >= 0 {
		unix.Close(v.client)
	}
	v.client = nfd
	v.mu.Unlock()
	return nil
}

func (v *VSock) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.client >= 0
}

func (v *VSock) Read(p []byte) (int, error) {
	fd, ok := v.peer()
	if !ok {
		return 0, ErrNotConnected
	}
	n, err := unix.Read(fd, p)
	if err != nil || n == 0 {
		v.dropPeer(fd)
		if err == nil {
			err = ErrClosed
		}
	}
	return n, err
}

func (v *VSock) Write(p []byte) (int, error) {
	fd, ok := v.peer()
	if !ok {
		return 0, ErrNotConnected
	}
	n, err := unix.Write(fd, p)
	if err != nil {
		v.dropPeer(fd)
	}
	return n, err
}

func (v *VSock) peer() (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.client, v.client >= 0
}

func (v *VSock) dropPeer(fd int) {
	v.mu.Lock()
	if v.client == fd {
		v.client = -1
	}
	v.mu.Unlock()
	unix.Close(fd)
}
