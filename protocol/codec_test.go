package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
)

// scriptedConn feeds canned client bytes to the codec and records what the
// codec writes back.
type scriptedConn struct {
	in  bytes.Reader
	out bytes.Buffer
}

func newScriptedConn(in string) *scriptedConn {
	c := &scriptedConn{}
	c.in.Reset([]byte(in))
	return c
}

func (c *scriptedConn) Init() error              { return nil }
func (c *scriptedConn) Shutdown() error          { return nil }
func (c *scriptedConn) WaitForConnection() error { return nil }
func (c *scriptedConn) Connected() bool          { return true }

func (c *scriptedConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *scriptedConn) Write(p []byte) (int, error) { return c.out.Write(p) }

func TestReceiveAcksGoodPacket(t *testing.T) {
	conn := newScriptedConn("$qSupported#37")
	c := NewCodec(conn)
	pkt, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if pkt.Data != "qSupported" {
		t.Errorf("payload = %q", pkt.Data)
	}
	if got := conn.out.String(); got != "+" {
		t.Errorf("wrote %q, want ack", got)
	}
}

func TestReceiveNacksBadChecksum(t *testing.T) {
	conn := newScriptedConn("$qSupported#38")
	c := NewCodec(conn)
	if _, err := c.Receive(); !errors.Is(err, ErrChecksum) {
		t.Fatalf("err = %v, want ErrChecksum", err)
	}
	if got := conn.out.String(); got != "-" {
		t.Errorf("wrote %q, want nack", got)
	}
}

func TestReceiveSkipsStrayAcks(t *testing.T) {
	conn := newScriptedConn("++-$g#67")
	c := NewCodec(conn)
	pkt, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if pkt.Data != "g" {
		t.Errorf("payload = %q", pkt.Data)
	}
}

func TestReceiveInterrupt(t *testing.T) {
	conn := newScriptedConn("\x03")
	c := NewCodec(conn)
	pkt, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !pkt.IsInterrupt() {
		t.Fatal("interrupt byte not surfaced as pseudo-packet")
	}
	if conn.out.Len() != 0 {
		t.Errorf("interrupt must not be acknowledged, wrote %q", conn.out.String())
	}
}

func TestSendWaitsForAck(t *testing.T) {
	conn := newScriptedConn("+")
	c := NewCodec(conn)
	if err := c.Send("OK"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := conn.out.String(); got != "$OK#9a" {
		t.Errorf("wrote %q", got)
	}
}

func TestSendRetransmitsOnce(t *testing.T) {
	conn := newScriptedConn("-+")
	c := NewCodec(conn)
	if err := c.Send("OK"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := conn.out.String(); got != "$OK#9a$OK#9a" {
		t.Errorf("wrote %q, want exactly one retransmission", got)
	}
}

func TestSendGivesUpAfterSecondNack(t *testing.T) {
	conn := newScriptedConn("--")
	c := NewCodec(conn)
	if err := c.Send("OK"); !errors.Is(err, ErrRetransmitLimit) {
		t.Fatalf("err = %v, want ErrRetransmitLimit", err)
	}
	if got := conn.out.String(); got != "$OK#9a$OK#9a" {
		t.Errorf("wrote %q, want exactly two transmissions", got)
	}
}

func TestSendNoAckMode(t *testing.T) {
	conn := newScriptedConn("")
	c := NewCodec(conn)
	c.SetAckMode(false)
	if err := c.Send("OK"); err != nil {
		t.Fatalf("Send without ack mode: %v", err)
	}
	if got := conn.out.String(); got != "$OK#9a" {
		t.Errorf("wrote %q", got)
	}
}

// chattyConn accepts concurrent writes, recording them as one byte stream.
type chattyConn struct {
	mu  sync.Mutex
	out bytes.Buffer
}

func (c *chattyConn) Init() error              { return nil }
func (c *chattyConn) Shutdown() error          { return nil }
func (c *chattyConn) WaitForConnection() error { return nil }
func (c *chattyConn) Connected() bool          { return true }

func (c *chattyConn) Read(p []byte) (int, error) { return 0, io.EOF }

func (c *chattyConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// One byte at a time, so unserialized senders would shuffle frames.
	c.out.WriteByte(p[0])
	return 1, nil
}

func TestConcurrentSendsKeepFramesIntact(t *testing.T) {
	conn := &chattyConn{}
	c := NewCodec(conn)
	c.SetAckMode(false)

	const senders = 8
	const rounds = 50
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		payload := fmt.Sprintf("S%02x", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				if err := c.Send(payload); err != nil {
					t.Errorf("Send(%q): %v", payload, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	stream := conn.out.Bytes()
	count := 0
	for len(stream) > 0 {
		end := bytes.IndexByte(stream, '#')
		if end < 0 || end+3 > len(stream) {
			t.Fatalf("truncated frame at %q", stream)
		}
		if _, err := Parse(stream[:end+3]); err != nil {
			t.Fatalf("interleaved frame %q: %v", stream[:end+3], err)
		}
		stream = stream[end+3:]
		count++
	}
	if count != senders*rounds {
		t.Errorf("recovered %d frames, want %d", count, senders*rounds)
	}
}

func TestReceiveEOF(t *testing.T) {
	conn := newScriptedConn("")
	c := NewCodec(conn)
	if _, err := c.Receive(); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want EOF", err)
	}
}
