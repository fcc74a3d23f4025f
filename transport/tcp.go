package transport

import (
	"fmt"
	"net"
	"sync"
)

// TCP listens on a stream socket and serves a single debugger client at a
// time.
type TCP struct {
	port int

	mu   sync.Mutex
	ln   net.Listener
	conn net.Conn
}

func NewTCP(port int) (*TCP, error) {
	if port < 1 || port > 65535 {
		return nil, ErrPortRange
	}
	return &TCP{port: port}, nil
}

func (t *TCP) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln != nil {
		return ErrAlreadyInit
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return err
	}
	t.ln = ln
	return nil
}

func (t *TCP) Shutdown() error {
	t.mu.Lock()
	ln, conn := t.ln, t.conn
	t.ln, t.conn = nil, nil
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (t *TCP) WaitForConnection() error {
	t.mu.Lock()
	ln := t.ln
	t.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}
	conn, err := ln.Accept()
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *TCP) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *TCP) Read(p []byte) (int, error) {
	conn := t.client()
	if conn == nil {
		return 0, ErrNotConnected
	}
	n, err := conn.Read(p)
	if err != nil {
		t.dropClient(conn)
	}
	return n, err
}

func (t *TCP) Write(p []byte) (int, error) {
	conn := t.client()
	if conn == nil {
		return 0, ErrNotConnected
	}
	n, err := conn.Write(p)
	if err != nil {
		t.dropClient(conn)
	}
	return n, err
}

func (t *TCP) client() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *TCP) dropClient(conn net.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	conn.Close()
}
