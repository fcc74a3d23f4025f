package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wnxd/gdbstub/arch"
	"github.com/wnxd/gdbstub/memory"
	"github.com/wnxd/gdbstub/stub"
	"github.com/wnxd/gdbstub/transport"

	_ "github.com/wnxd/gdbstub/arch/arm64"
	_ "github.com/wnxd/gdbstub/arch/x86_64"
)

// demoThread exposes a plain register file so a debugger can poke at the
// stub without a live target behind it.
type demoThread struct {
	regs *arch.File
}

func (t demoThread) Registers() arch.Context { return t.regs }

func main() {
	var (
		trName   string
		port     int
		device   string
		archName string
	)
	flag.StringVar(&trName, "transport", "tcp", "transport to listen on (tcp, serial, vsock, quic)")
	flag.IntVar(&port, "port", 1234, "port for tcp, vsock and quic transports")
	flag.StringVar(&device, "device", "/dev/ttyS0", "device path for the serial transport")
	flag.StringVar(&archName, "arch", "x86_64", "target architecture (x86_64, arm64)")
	flag.Parse()

	logger := log.New(os.Stderr, "gdbstub: ", log.LstdFlags)

	tr, err := newTransport(trName, port, device)
	if err != nil {
		fmt.Fprintln(os.Stderr, "transport setup failed:", err)
		os.Exit(2)
	}

	adapter, err := arch.New(archID(archName))
	if err != nil {
		fmt.Fprintln(os.Stderr, "unknown architecture:", archName)
		os.Exit(2)
	}

	const ramBase, ramSize = 0x1000, 1 << 20
	ram := memory.NewRAM(ramBase, ramSize)

	s, err := stub.New(stub.Config{
		Transport: tr,
		Arch:      adapter,
		Memory:    ram,
		Regions: []memory.Region{
			{Start: ramBase, Length: ramSize, Readable: true, Writable: true, Executable: true},
		},
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "stub setup failed:", err)
		os.Exit(1)
	}
	s.AddThread(demoThread{regs: arch.NewFile()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- s.Run() }()

	select {
	case <-ctx.Done():
		logger.Printf("shutting down")
		s.Shutdown()
		<-errc
	case err := <-errc:
		if err != nil {
			fmt.Fprintln(os.Stderr, "stub exited:", err)
			os.Exit(1)
		}
	}
}

func newTransport(name string, port int, device string) (transport.Transport, error) {
	switch name {
	case "tcp":
		return transport.NewTCP(port)
	case "serial":
		return transport.NewSerial(device), nil
	case "vsock":
		if port <= 0 {
			return nil, transport.ErrPortRange
		}
		return transport.NewVSock(uint32(port))
	case "quic":
		return transport.NewQUIC(port)
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

func archID(name string) arch.ID {
	switch name {
	case "x86_64":
		return arch.X86_64
	case "arm64", "aarch64":
		return arch.ARM64
	default:
		return arch.Unknown
	}
}
