package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/wnxd/gdbstub/transport"
)

var (
	ErrBadAck          = errors.New("unexpected acknowledgment byte")
	ErrRetransmitLimit = errors.New("peer rejected retransmission")
)

// Codec frames and deframes packets over a byte transport. Acknowledgment
// mode is on by default, as mandated by the protocol's initial state, and
// is turned off by the engine when the client negotiates QStartNoAckMode.
// Sends are serialized, so an out-of-band stop report never interleaves
// its frame bytes with a reply being written on another goroutine.
type Codec struct {
	t transport.Transport

	// wmu orders whole frames (and their ack wait) on the write side.
	wmu sync.Mutex

	mu  sync.Mutex
	ack bool
}

func NewCodec(t transport.Transport) *Codec {
	return &Codec{t: t, ack: true}
}

func (c *Codec) SetAckMode(on bool) {
	c.mu.Lock()
	c.ack = on
	c.mu.Unlock()
}

func (c *Codec) AckMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ack
}

// Receive reads one packet. Stray acknowledgment bytes before the start
// marker are skipped; a bare interrupt byte is returned immediately as an
// interrupt pseudo-packet. On checksum mismatch a negative acknowledgment
// is sent and ErrChecksum returned; the command layer never sees the
// corrupt payload.
func (c *Codec) Receive() (Packet, error) {
	for {
		ch, err := c.readByte()
		if err != nil {
			return Packet{}, err
		}
		switch ch {
		case PacketStart:
			return c.receiveBody()
		case Interrupt:
			return Packet{Data: string(rune(Interrupt))}, nil
		case Ack, Nack:
			// Leftover handshake byte from a previous exchange.
		}
	}
}

func (c *Codec) receiveBody() (Packet, error) {
	var body []byte
	for {
		ch, err := c.readByte()
		if err != nil {
			return Packet{}, err
		}
		if ch == PacketEnd {
			break
		}
		body = append(body, ch)
	}
	var sumBuf [2]byte
	for i := range sumBuf {
		ch, err := c.readByte()
		if err != nil {
			return Packet{}, err
		}
		sumBuf[i] = ch
	}
	sum, err := strconv.ParseUint(string(sumBuf[:]), 16, 8)
	if err != nil {
		if c.AckMode() {
			c.sendNack()
		}
		return Packet{}, ErrMalformed
	}
	if Checksum(string(body)) != uint8(sum) {
		if c.AckMode() {
			c.sendNack()
		}
		return Packet{}, ErrChecksum
	}
	if c.AckMode() {
		if err := c.sendAck(); err != nil {
			return Packet{}, err
		}
	}
	return Packet{Data: Unescape(string(body)), Checksum: uint8(sum)}, nil
}

// Send frames and writes a payload. In acknowledgment mode it waits for the
// peer's verdict and retransmits exactly once on a negative acknowledgment;
// a second rejection is treated as a dead link rather than retried forever.
func (c *Codec) Send(payload string) error {
	frame := Format(payload)
	c.wmu.Lock()
	defer c.wmu.Unlock()
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.writeAll(frame); err != nil {
			return err
		}
		if !c.AckMode() {
			return nil
		}
		ch, err := c.readByte()
		if err != nil {
			return err
		}
		switch ch {
		case Ack:
			return nil
		case Nack:
			continue
		default:
			return fmt.Errorf("%w: %#02x", ErrBadAck, ch)
		}
	}
	return ErrRetransmitLimit
}

func (c *Codec) sendAck() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.writeAll([]byte{Ack})
}

func (c *Codec) sendNack() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.writeAll([]byte{Nack})
}

func (c *Codec) readByte() (byte, error) {
	var buf [1]byte
	n, err := c.t.Read(buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return buf[0], nil
}

func (c *Codec) writeAll(p []byte) error {
	for len(p) > 0 {
		n, err := c.t.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
