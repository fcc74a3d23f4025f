package stub

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/wnxd/gdbstub/arch"
	"github.com/wnxd/gdbstub/memory"
	"github.com/wnxd/gdbstub/protocol"
)

// packetSize is advertised to the client in hex; 0x1000 bytes matches the
// per-operation memory access cap.
const packetSize = memory.MaxAccess

func (s *Stub) handlePacket(pkt protocol.Packet) {
	if pkt.Data == "" {
		return
	}
	if pkt.IsInterrupt() {
		s.handleInterrupt()
		return
	}
	cmd, params := pkt.Data[0], pkt.Data[1:]
	switch cmd {
	case '!':
		s.mu.Lock()
		s.extended = true
		s.mu.Unlock()
		s.send("OK")
	case '?':
		s.handleHaltReason()
	case 'g':
		s.handleReadRegisters()
	case 'G':
		s.handleWriteRegisters(params)
	case 'p':
		s.handleReadRegister(params)
	case 'P':
		s.handleWriteRegister(params)
	case 'm':
		s.handleReadMemory(params)
	case 'M':
		s.handleWriteMemory(params)
	case 'c':
		s.handleContinue(params)
	case 's':
		s.handleStep(params)
	case 'Z':
		s.handleBreakpoint(true, params)
	case 'z':
		s.handleBreakpoint(false, params)
	case 'H':
		s.handleThreadSelection(params)
	case 'T':
		s.handleThreadAlive(params)
	case 'D':
		s.handleDetach()
	case 'k':
		s.handleKill()
	case 'q':
		s.handleQuery(params)
	case 'Q':
		s.handleSet(params)
	case 'v':
		s.handleV(params)
	default:
		// Empty reply means "command not supported"; clients probe with
		// commands they do not require.
		s.send("")
	}
}

func (s *Stub) send(payload string) {
	if err := s.codec.Send(payload); err != nil {
		s.logf.Printf("send failed: %v", err)
	}
}

func (s *Stub) handleInterrupt() {
	// No framed reply; the stop is observable through the next '?' query.
	s.mu.Lock()
	if ti := s.threads[s.current]; ti != nil {
		ti.state = ThreadStopped
		ti.signal = 2
	}
	s.lastSignal = 2
	s.mu.Unlock()
	s.logf.Printf("interrupt requested")
}

func (s *Stub) handleHaltReason() {
	s.mu.Lock()
	sig := s.lastSignal
	s.mu.Unlock()
	s.send(fmt.Sprintf("S%02x", sig))
}

func (s *Stub) handleReadRegisters() {
	ti := s.currentThread()
	if ti == nil {
		s.send("E01")
		return
	}
	data, err := s.arch.ReadRegisters(ti.handle.Registers())
	if err != nil {
		s.send("E02")
		return
	}
	s.send(hex.EncodeToString(data))
}

func (s *Stub) handleWriteRegisters(params string) {
	ti := s.currentThread()
	if ti == nil {
		s.send("E01")
		return
	}
	data, err := hex.DecodeString(params)
	if err != nil {
		s.send("E02")
		return
	}
	if err := s.arch.WriteRegisters(ti.handle.Registers(), data); err != nil {
		s.send("E02")
		return
	}
	s.send("OK")
}

func (s *Stub) handleReadRegister(params string) {
	ti := s.currentThread()
	if ti == nil {
		s.send("E01")
		return
	}
	index, err := strconv.ParseUint(params, 16, 32)
	if err != nil {
		s.send("E01")
		return
	}
	data, err := s.arch.ReadRegister(ti.handle.Registers(), int(index))
	if err != nil {
		s.send("E01")
		return
	}
	s.send(hex.EncodeToString(data))
}

func (s *Stub) handleWriteRegister(params string) {
	ti := s.currentThread()
	if ti == nil {
		s.send("E01")
		return
	}
	index, value, ok := strings.Cut(params, "=")
	if !ok {
		s.send("E01")
		return
	}
	regNum, err := strconv.ParseUint(index, 16, 32)
	if err != nil {
		s.send("E01")
		return
	}
	data, err := hex.DecodeString(value)
	if err != nil {
		s.send("E02")
		return
	}
	if err := s.arch.WriteRegister(ti.handle.Registers(), int(regNum), data); err != nil {
		if errors.Is(err, arch.ErrRegisterSize) {
			s.send("E02")
		} else {
			s.send("E01")
		}
		return
	}
	s.send("OK")
}

func memoryErrorReply(err error) string {
	switch {
	case errors.Is(err, memory.ErrNullAddress), errors.Is(err, memory.ErrZeroLength):
		return "E01"
	case errors.Is(err, memory.ErrTooLarge):
		return "E02"
	default:
		return "E03"
	}
}

func (s *Stub) handleReadMemory(params string) {
	addrStr, lenStr, ok := strings.Cut(params, ",")
	if !ok {
		s.send("E01")
		return
	}
	addr, err1 := strconv.ParseUint(addrStr, 16, 64)
	length, err2 := strconv.ParseUint(lenStr, 16, 32)
	if err1 != nil || err2 != nil {
		s.send("E01")
		return
	}
	// Reject before sizing the reply buffer; the length is client-chosen.
	if length > memory.MaxAccess {
		s.send("E02")
		return
	}
	buf := make([]byte, length)
	if err := s.mem.ReadAt(addr, buf); err != nil {
		s.send(memoryErrorReply(err))
		return
	}
	s.send(hex.EncodeToString(buf))
}

func (s *Stub) handleWriteMemory(params string) {
	header, dataHex, ok := strings.Cut(params, ":")
	if !ok {
		s.send("E01")
		return
	}
	addrStr, lenStr, ok := strings.Cut(header, ",")
	if !ok {
		s.send("E01")
		return
	}
	addr, err1 := strconv.ParseUint(addrStr, 16, 64)
	length, err2 := strconv.ParseUint(lenStr, 16, 32)
	if err1 != nil || err2 != nil {
		s.send("E01")
		return
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil || uint64(len(data)) != length {
		s.send("E02")
		return
	}
	if err := s.mem.WriteAt(addr, data); err != nil {
		s.send(memoryErrorReply(err))
		return
	}
	s.send("OK")
}

func (s *Stub) handleContinue(params string) {
	s.mu.Lock()
	if ti := s.threads[s.current]; ti != nil {
		ti.state = ThreadRunning
	}
	s.mu.Unlock()
	// Resumption itself is the host scheduler's affair; the stop that ends
	// it arrives out of band through ReportStop.
	s.send("OK")
}

func (s *Stub) handleStep(params string) {
	ti := s.currentThread()
	if ti == nil {
		s.send("E01")
		return
	}
	if err := s.arch.SingleStep(ti.handle.Registers()); err != nil {
		s.send("E02")
		return
	}
	s.send("OK")
}

func (s *Stub) handleBreakpoint(insert bool, params string) {
	parts := strings.Split(params, ",")
	if len(parts) != 3 {
		s.send("E01")
		return
	}
	kind, err1 := strconv.ParseUint(parts[0], 16, 8)
	addr, err2 := strconv.ParseUint(parts[1], 16, 64)
	length, err3 := strconv.ParseUint(parts[2], 16, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		s.send("E01")
		return
	}
	if insert {
		s.insertBreakpoint(arch.BreakpointKind(kind), addr, int(length))
	} else {
		s.removeBreakpoint(addr)
	}
}

func (s *Stub) insertBreakpoint(kind arch.BreakpointKind, addr uint64, length int) {
	s.mu.Lock()
	_, occupied := s.breakpoints[addr]
	s.mu.Unlock()
	if occupied {
		// Overwriting would lose the saved original instruction.
		s.send("E03")
		return
	}
	bp := &arch.Breakpoint{Kind: kind, Addr: addr, Length: length}
	if err := s.arch.SetBreakpoint(s.mem, bp); err != nil {
		s.send("E03")
		return
	}
	s.mu.Lock()
	s.breakpoints[addr] = bp
	s.mu.Unlock()
	s.send("OK")
}

func (s *Stub) removeBreakpoint(addr uint64) {
	s.mu.Lock()
	bp, ok := s.breakpoints[addr]
	s.mu.Unlock()
	if !ok {
		s.send("E03")
		return
	}
	if err := s.arch.ClearBreakpoint(s.mem, bp); err != nil {
		s.send("E03")
		return
	}
	s.mu.Lock()
	delete(s.breakpoints, addr)
	s.mu.Unlock()
	s.send("OK")
}

func (s *Stub) handleThreadSelection(params string) {
	if params == "" {
		s.send("E01")
		return
	}
	op, idStr := params[0], params[1:]
	if op != 'c' && op != 'g' {
		s.send("E01")
		return
	}
	id, err := strconv.ParseInt(idStr, 16, 32)
	if err != nil {
		s.send("E01")
		return
	}
	if id <= 0 {
		// "Any thread" / "all threads": keep the current selection.
		s.send("OK")
		return
	}
	if s.thread(int(id)) == nil {
		s.send("E02")
		return
	}
	s.mu.Lock()
	s.current = int(id)
	s.mu.Unlock()
	s.send("OK")
}

func (s *Stub) handleThreadAlive(params string) {
	id, err := strconv.ParseInt(params, 16, 32)
	if err != nil {
		s.send("E01")
		return
	}
	ti := s.thread(int(id))
	if ti == nil || ti.state == ThreadTerminated {
		s.send("E01")
		return
	}
	s.send("OK")
}

func (s *Stub) handleDetach() {
	s.send("OK")
	s.setAttached(false)
}

func (s *Stub) handleKill() {
	// No reply. In extended mode the link outlives the target, otherwise
	// the whole engine winds down.
	s.mu.Lock()
	extended := s.extended
	if !extended {
		s.running = false
	}
	s.mu.Unlock()
	if !extended {
		s.tr.Shutdown()
	}
}

func (s *Stub) handleQuery(query string) {
	switch {
	case strings.HasPrefix(query, "Supported"):
		s.send(fmt.Sprintf("PacketSize=%x;qXfer:features:read+;qXfer:memory-map:read+;QStartNoAckMode+", packetSize))
	case query == "C":
		s.mu.Lock()
		current := s.current
		s.mu.Unlock()
		s.send(fmt.Sprintf("QC%x", current))
	case query == "Attached":
		s.send("1")
	case query == "fThreadInfo":
		s.handleThreadInfo()
	case query == "sThreadInfo":
		s.send("l")
	case strings.HasPrefix(query, "Xfer:features:read:"):
		s.handleTargetXML(strings.TrimPrefix(query, "Xfer:features:read:"))
	case strings.HasPrefix(query, "Xfer:memory-map:read:"):
		s.handleMemoryMap(strings.TrimPrefix(query, "Xfer:memory-map:read:"))
	default:
		s.send("")
	}
}

func (s *Stub) handleThreadInfo() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		s.send("l")
		return
	}
	slices.Sort(ids)
	var b strings.Builder
	b.WriteByte('m')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%x", id)
	}
	s.send(b.String())
}

func (s *Stub) handleTargetXML(args string) {
	annex, window, ok := strings.Cut(args, ":")
	if !ok || annex != "target.xml" {
		s.send("E01")
		return
	}
	s.sendDocumentWindow(s.arch.TargetXML(), window)
}

func (s *Stub) handleMemoryMap(args string) {
	// qXfer:memory-map:read::OFFSET,LENGTH has an empty annex.
	window := strings.TrimPrefix(args, ":")
	s.sendDocumentWindow(memory.MapXML(s.regions), window)
}

// sendDocumentWindow serves one page of a qXfer document: 'm' marks a
// partial read, 'l' the final chunk.
func (s *Stub) sendDocumentWindow(doc, window string) {
	offStr, lenStr, ok := strings.Cut(window, ",")
	if !ok {
		s.send("E01")
		return
	}
	off, err1 := strconv.ParseUint(offStr, 16, 32)
	length, err2 := strconv.ParseUint(lenStr, 16, 32)
	if err1 != nil || err2 != nil {
		s.send("E01")
		return
	}
	if off >= uint64(len(doc)) {
		s.send("l")
		return
	}
	end := off + length
	marker := "m"
	if end >= uint64(len(doc)) {
		end = uint64(len(doc))
		marker = "l"
	}
	s.send(marker + doc[off:end])
}

func (s *Stub) handleSet(params string) {
	switch params {
	case "StartNoAckMode":
		// Disable before replying: the client's ack for this OK is the
		// last one either side sends, and stray '+' bytes are skipped by
		// the receive loop anyway.
		s.codec.SetAckMode(false)
		s.send("OK")
	default:
		s.send("")
	}
}

func (s *Stub) handleV(params string) {
	switch {
	case params == "Cont?":
		s.send("vCont;c;s")
	case strings.HasPrefix(params, "Cont;c"):
		s.handleContinue("")
	case strings.HasPrefix(params, "Cont;s"):
		s.handleStep("")
	default:
		s.send("")
	}
}
