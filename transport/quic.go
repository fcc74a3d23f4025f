package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

const quicProto = "gdb-rsp"

// QUIC serves the debug link over a single bidirectional QUIC stream. The
// stream gives the same ordered reliable byte semantics as TCP while
// surviving client address migration, which matters for long debug sessions
// from roaming hosts.
type QUIC struct {
	port    int
	tlsConf *tls.Config

	mu     sync.Mutex
	ln     *quic.Listener
	conn   *quic.Conn
	stream *quic.Stream
}

func NewQUIC(port int) (*QUIC, error) {
	if port < 1 || port > 65535 {
		return nil, ErrPortRange
	}
	tlsConf, err := ephemeralTLS()
	if err != nil {
		return nil, err
	}
	return &QUIC{port: port, tlsConf: tlsConf}, nil
}

func (q *QUIC) Init() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ln != nil {
		return ErrAlreadyInit
	}
	ln, err := quic.ListenAddr(fmt.Sprintf(":%d", q.port), q.tlsConf, nil)
	if err != nil {
		return err
	}
	q.ln = ln
	return nil
}

func (q *QUIC) Shutdown() error {
	q.mu.Lock()
	ln, conn, stream := q.ln, q.conn, q.stream
	q.ln, q.conn, q.stream = nil, nil, nil
	q.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
	if conn != nil {
		conn.CloseWithError(0, "shutdown")
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (q *QUIC) WaitForConnection() error {
	q.mu.Lock()
	ln := q.ln
	q.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}
	conn, err := ln.Accept(context.Background())
	if err != nil {
		return err
	}
	// The client opens the stream; it is not visible here until the first
	// bytes arrive, which for RSP is the initial packet anyway.
	stream, err := conn.AcceptStream(context.Background())
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return err
	}
	q.mu.Lock()
	if q.conn != nil {
		q.conn.CloseWithError(0, "replaced")
	}
	q.conn, q.stream = conn, stream
	q.mu.Unlock()
	return nil
}

func (q *QUIC) Connected() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stream != nil
}

func (q *QUIC) Read(p []byte) (int, error) {
	stream := q.link()
	if stream == nil {
		return 0, ErrNotConnected
	}
	n, err := stream.Read(p)
	if err != nil {
		q.dropLink(stream)
	}
	return n, err
}

func (q *QUIC) Write(p []byte) (int, error) {
	stream := q.link()
	if stream == nil {
		return 0, ErrNotConnected
	}
	n, err := stream.Write(p)
	if err != nil {
		q.dropLink(stream)
	}
	return n, err
}

func (q *QUIC) link() *quic.Stream {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stream
}

func (q *QUIC) dropLink(stream *quic.Stream) {
	q.mu.Lock()
	conn := q.conn
	if q.stream == stream {
		q.stream = nil
		q.conn = nil
	} else {
		conn = nil
	}
	q.mu.Unlock()
	stream.Close()
	if conn != nil {
		conn.CloseWithError(0, "link lost")
	}
}

// ephemeralTLS builds a throwaway self-signed identity. The stub
// authenticates nothing; QUIC merely requires a certificate, and debugger
// clients connect with verification disabled.
func ephemeralTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "gdbstub"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{quicProto},
	}, nil
}
