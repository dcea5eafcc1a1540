// Package receipt renders committed sales and sends them to a receipt printer.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// Printer sends a rendered receipt to a device.
type Printer interface {
	Print(ctx context.Context, data []byte) error
	Close() error
}

// USBPrinter writes to a character device such as /dev/usb/lp0. The device is
// opened per job.
type USBPrinter struct {
	Path string
}

// Print implements Printer.
func (p USBPrinter) Print(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.OpenFile(p.Path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("receipt: open usb device %s: %w", p.Path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("receipt: write usb device %s: %w", p.Path, err)
	}
	return nil
}

// Close implements Printer.
func (USBPrinter) Close() error { return nil }

// NetworkPrinter dials a raw TCP printer port, usually 9100, per job.
type NetworkPrinter struct {
	Addr         string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// Print implements Printer.
func (p NetworkPrinter) Print(ctx context.Context, data []byte) error {
	dial := p.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	write := p.WriteTimeout
	if write <= 0 {
		write = 10 * time.Second
	}
	d := net.Dialer{Timeout: dial}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("receipt: connect %s: %w", p.Addr, err)
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(write))
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("receipt: write %s: %w", p.Addr, err)
	}
	return nil
}

// Close implements Printer.
func (NetworkPrinter) Close() error { return nil }

// WriterPrinter appends receipts to an io.Writer; used for local runs and tests.
type WriterPrinter struct {
	mu sync.Mutex
	W  io.Writer
}

// Print implements Printer.
func (p *WriterPrinter) Print(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.W == nil {
		return errors.New("receipt: writer not configured")
	}
	_, err := p.W.Write(data)
	return err
}

// Close closes the writer when it is an io.Closer.
func (p *WriterPrinter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.W.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewPrinter builds a printer for kind: "usb" (addr is a device path),
// "network" (addr is host:port) or "stdout". "none" and "" return a nil
// printer, meaning printing is disabled.
func NewPrinter(kind, addr string) (Printer, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "none":
		return nil, nil
	case "usb":
		if addr == "" {
			return nil, errors.New("receipt: usb printer needs a device path")
		}
		return USBPrinter{Path: addr}, nil
	case "network":
		if addr == "" {
			return nil, errors.New("receipt: network printer needs an address")
		}
		return NetworkPrinter{Addr: addr}, nil
	case "stdout":
		// Hide os.Stdout's Close so shutting the printer down leaves stdout open.
		return &WriterPrinter{W: struct{ io.Writer }{os.Stdout}}, nil
	default:
		return nil, fmt.Errorf("receipt: unknown printer kind %q", kind)
	}
}
