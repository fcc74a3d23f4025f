//go:build linux

package transport

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Serial drives a tty device as the debug link. The line is forced to raw
// 8N1 at 115200 with no flow control before the transport reports itself
// connected.
type Serial struct {
	device string

	mu   sync.Mutex
	fd   int
	open bool
}

func NewSerial(device string) *Serial {
	return &Serial{device: device, fd: -1}
}

func (s *Serial) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return ErrAlreadyInit
	}
	fd, err := unix.Open(s.device, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return err
	}
	if err := configureLine(fd); err != nil {
		unix.Close(fd)
		return err
	}
	s.fd = fd
	s.open = true
	return nil
}

func configureLine(fd int) error {
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	tio.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	tio.Cflag &^= unix.CBAUD
	tio.Cflag |= unix.B115200
	tio.Ispeed = unix.B115200
	tio.Ospeed = unix.B115200

	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, unix.TCSETS, tio)
}

func (s *Serial) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	fd := s.fd
	s.fd = -1
	return unix.Close(fd)
}

// WaitForConnection is a no-op for a serial line: the peer is reachable as
// soon as the device is open.
func (s *Serial) WaitForConnection() error {
	if !s.Connected() {
		return ErrNotConnected
	}
	return nil
}

func (s *Serial) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Serial) Read(p []byte) (int, error) {
	fd, ok := s.handle()
	if !ok {
		return 0, ErrNotConnected
	}
	return unix.Read(fd, p)
}

func (s *Serial) Write(p []byte) (int, error) {
	fd, ok := s.handle()
	if !ok {
		return 0, ErrNotConnected
	}
	return unix.Write(fd, p)
}

func (s *Serial) handle() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd, s.open
}
