// Package stub is the protocol engine of the debug stub: it owns session
// state, the thread and breakpoint tables, and the command dispatch loop
// between the packet codec and the architecture adapter.
package stub

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/wnxd/gdbstub/arch"
	"github.com/wnxd/gdbstub/memory"
	"github.com/wnxd/gdbstub/protocol"
	"github.com/wnxd/gdbstub/transport"
)

var (
	ErrNoTransport = errors.New("stub: no transport configured")
	ErrNoAdapter   = errors.New("stub: no architecture adapter configured")
	ErrNoMemory    = errors.New("stub: no memory configured")
)

// SIGTRAP, the stop reason reported before any execution control has run.
const defaultSignal = 5

type ThreadState int

const (
	ThreadRunning ThreadState = iota
	ThreadStopped
	ThreadTerminated
)

// Thread is the opaque scheduler-facing handle for a debuggee thread. The
// stub never inspects it beyond asking for its register context.
type Thread interface {
	Registers() arch.Context
}

type threadInfo struct {
	id     int
	handle Thread
	state  ThreadState
	signal int
}

type Config struct {
	Transport transport.Transport
	Arch      arch.Adapter
	Memory    arch.Memory
	// Regions feeds the memory-map document. Defaults to one flat 4 GiB
	// RAM region when empty.
	Regions []memory.Region
	// Logger receives connection lifecycle and protocol diagnostics; nil
	// silences them.
	Logger *log.Logger
}

// Stub runs one debug session engine. All methods are safe to call from the
// debuggee's threads while the engine loop runs on its own goroutine; one
// mutex guards the thread table, the breakpoint table and the current
// thread selection.
type Stub struct {
	tr    transport.Transport
	arch  arch.Adapter
	mem   *memory.Checked
	codec *protocol.Codec
	logf  *log.Logger

	regions []memory.Region
	nextID  atomic.Int64

	mu          sync.Mutex
	running     bool
	attached    bool
	extended    bool
	lastSignal  int
	current     int
	threads     map[int]*threadInfo
	breakpoints map[uint64]*arch.Breakpoint
}

func New(cfg Config) (*Stub, error) {
	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}
	if cfg.Arch == nil {
		return nil, ErrNoAdapter
	}
	if cfg.Memory == nil {
		return nil, ErrNoMemory
	}
	logf := cfg.Logger
	if logf == nil {
		logf = log.New(io.Discard, "", 0)
	}
	regions := cfg.Regions
	if len(regions) == 0 {
		regions = []memory.Region{{Start: 0, Length: 1 << 32, Readable: true, Writable: true, Executable: true}}
	}
	return &Stub{
		tr:          cfg.Transport,
		arch:        cfg.Arch,
		mem:         memory.NewChecked(cfg.Memory),
		codec:       protocol.NewCodec(cfg.Transport),
		logf:        logf,
		regions:     regions,
		lastSignal:  defaultSignal,
		threads:     make(map[int]*threadInfo),
		breakpoints: make(map[uint64]*arch.Breakpoint),
	}, nil
}

// Run drives the engine state machine: listen, serve one client until the
// link drops, listen again. It returns after Shutdown, a kill command, or a
// listener failure. Framing errors never abort a session; transport errors
// end it and fall back to listening.
func (s *Stub) Run() error {
	if err := s.tr.Init(); err != nil {
		return fmt.Errorf("transport init: %w", err)
	}
	defer s.tr.Shutdown()
	s.setRunning(true)
	for s.isRunning() {
		if err := s.tr.WaitForConnection(); err != nil {
			if !s.isRunning() {
				break
			}
			return fmt.Errorf("wait for connection: %w", err)
		}
		s.logf.Printf("client connected")
		s.setAttached(true)
		s.codec.SetAckMode(true)
		for s.isRunning() && s.tr.Connected() {
			pkt, err := s.codec.Receive()
			if err != nil {
				if errors.Is(err, protocol.ErrChecksum) || errors.Is(err, protocol.ErrMalformed) {
					s.logf.Printf("dropped corrupt packet: %v", err)
					continue
				}
				break
			}
			s.handlePacket(pkt)
		}
		s.setAttached(false)
		s.logf.Printf("client disconnected")
	}
	return nil
}

// Shutdown terminates the engine and clears the thread and breakpoint
// tables. In-flight transport reads fail, which unwinds Run.
func (s *Stub) Shutdown() error {
	s.mu.Lock()
	s.running = false
	s.attached = false
	s.current = 0
	s.threads = make(map[int]*threadInfo)
	s.breakpoints = make(map[uint64]*arch.Breakpoint)
	s.mu.Unlock()
	return s.tr.Shutdown()
}

// AddThread registers a debuggee thread and returns its stub-local id. Ids
// are monotonically assigned and never reused; the first registered thread
// becomes the current selection.
func (s *Stub) AddThread(t Thread) int {
	id := int(s.nextID.Add(1))
	s.mu.Lock()
	s.threads[id] = &threadInfo{id: id, handle: t, state: ThreadRunning}
	if s.current == 0 {
		s.current = id
	}
	s.mu.Unlock()
	return id
}

func (s *Stub) RemoveThread(id int) {
	s.mu.Lock()
	if ti, ok := s.threads[id]; ok {
		ti.state = ThreadTerminated
		delete(s.threads, id)
	}
	if s.current == id {
		s.current = 0
		for tid := range s.threads {
			if s.current == 0 || tid < s.current {
				s.current = tid
			}
		}
	}
	s.mu.Unlock()
}

// ReportStop records that a thread stopped with the given signal and, when
// a client is attached, emits the out-of-band stop reply.
func (s *Stub) ReportStop(id, signal int) error {
	s.mu.Lock()
	if ti, ok := s.threads[id]; ok {
		ti.state = ThreadStopped
		ti.signal = signal
	}
	s.lastSignal = signal
	attached := s.attached
	s.mu.Unlock()
	if !attached {
		return nil
	}
	return s.codec.Send(fmt.Sprintf("S%02x", signal))
}

func (s *Stub) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Stub) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *Stub) setAttached(v bool) {
	s.mu.Lock()
	s.attached = v
	s.mu.Unlock()
}

func (s *Stub) currentThread() *threadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[s.current]
}

func (s *Stub) thread(id int) *threadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[id]
}
