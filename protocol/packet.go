// Package protocol implements the framing layer of the GDB remote serial
// protocol: checksummed, escaped packets exchanged with positive and
// negative acknowledgments over a raw byte transport.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	PacketStart = '$'
	PacketEnd   = '#'
	Ack         = '+'
	Nack        = '-'
	Interrupt   = 0x03

	escapePrefix = '}'
	escapeXOR    = 0x20
)

var (
	ErrChecksum  = errors.New("packet checksum mismatch")
	ErrMalformed = errors.New("malformed packet")
)

// Packet is one decoded request or response. Data holds the unescaped
// payload; an interrupt request is surfaced as a pseudo-packet whose payload
// is the single interrupt byte.
type Packet struct {
	Data     string
	Checksum uint8
}

func (p Packet) IsInterrupt() bool {
	return p.Data == string(rune(Interrupt))
}

// Checksum is the unsigned 8-bit wraparound sum of the payload as it
// appears on the wire.
func Checksum(data string) uint8 {
	var sum uint8
	for i := 0; i < len(data); i++ {
		sum += data[i]
	}
	return sum
}

// Escape replaces the reserved bytes '#', '$', '}' and '*' with the escape
// prefix followed by the byte XOR 0x20.
func Escape(data string) string {
	var b strings.Builder
	for i := 0; i < len(data); i++ {
		switch ch := data[i]; ch {
		case PacketEnd, PacketStart, escapePrefix, '*':
			b.WriteByte(escapePrefix)
			b.WriteByte(ch ^ escapeXOR)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func Unescape(data string) string {
	var b strings.Builder
	escaped := false
	for i := 0; i < len(data); i++ {
		ch := data[i]
		switch {
		case escaped:
			b.WriteByte(ch ^ escapeXOR)
			escaped = false
		case ch == escapePrefix:
			escaped = true
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// Format frames a payload for the wire: '$', the escaped payload, '#', and
// two lowercase hex checksum digits computed over the escaped form.
func Format(payload string) []byte {
	escaped := Escape(payload)
	return []byte(fmt.Sprintf("$%s#%02x", escaped, Checksum(escaped)))
}

// Parse decodes one framed packet, verifying the transmitted checksum
// against the wire payload before unescaping it.
func Parse(raw []byte) (Packet, error) {
	n := len(raw)
	if n < 4 || raw[0] != PacketStart || raw[n-3] != PacketEnd {
		return Packet{}, ErrMalformed
	}
	body := string(raw[1 : n-3])
	sum, err := strconv.ParseUint(string(raw[n-2:]), 16, 8)
	if err != nil {
		return Packet{}, ErrMalformed
	}
	if Checksum(body) != uint8(sum) {
		return Packet{}, ErrChecksum
	}
	return Packet{Data: Unescape(body), Checksum: uint8(sum)}, nil
}
