// Package netctl advertises a control-plane TCP service over DNS-SD and
// serves a small line-oriented protocol for out-of-band introspection
// (STATUS, RELOAD). It never touches the audio path: reconfiguration goes
// through the same Reconfigure entry point a config-file reload would use.
package netctl

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

var netLog = log.WithPrefix("netctl")

const serviceType = "_whistle._tcp"

// StatusProvider reports the currently-running pipeline's shape, for the
// STATUS command.
type StatusProvider interface {
	Description() string
	SampleRate() float32
	BlockSize() int
	Preludes() []uint32
}

// Controller serves the control protocol and advertises it via DNS-SD.
type Controller struct {
	listener net.Listener
	status   StatusProvider
	reload   func() error

	responder dnssd.Responder
	cancel    context.CancelFunc
}

// defaultServiceName mirrors the teacher's "<Product> on <hostname>"
// fallback naming.
func defaultServiceName() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "whistle"
	}
	hostname, _, _ = strings.Cut(hostname, ".")
	return "whistle on " + hostname
}

// Open starts listening on addr (e.g. "0.0.0.0:7373"), advertises it over
// DNS-SD, and serves requests using status and reload to answer STATUS and
// RELOAD commands.
func Open(addr string, status StatusProvider, reload func() error) (*Controller, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netctl: listening on %s: %w", addr, err)
	}

	port := listener.Addr().(*net.TCPAddr).Port

	responder, err := dnssd.NewResponder()
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("netctl: creating dns-sd responder: %w", err)
	}

	cfg := dnssd.Config{
		Name: defaultServiceName(),
		Type: serviceType,
		Port: port,
	}
	service, err := dnssd.NewService(cfg)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("netctl: describing dns-sd service: %w", err)
	}

	if _, err := responder.Add(service); err != nil {
		listener.Close()
		return nil, fmt.Errorf("netctl: registering dns-sd service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		listener:  listener,
		status:    status,
		reload:    reload,
		responder: responder,
		cancel:    cancel,
	}

	go func() {
		if err := responder.Respond(ctx); err != nil && ctx.Err() == nil {
			netLog.Error("dns-sd responder stopped", "err", err)
		}
	}()

	go c.serve()

	netLog.Info("control protocol listening", "addr", listener.Addr(), "service", cfg.Name)

	return c, nil
}

func (c *Controller) serve() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			return
		}
		go c.handle(conn)
	}
}

func (c *Controller) handle(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch strings.ToUpper(fields[0]) {
		case "STATUS":
			fmt.Fprintf(conn, "OK description=%q sample_rate=%g block_size=%d preludes=%v\n",
				c.status.Description(), c.status.SampleRate(), c.status.BlockSize(), c.status.Preludes())
		case "RELOAD":
			if err := c.reload(); err != nil {
				fmt.Fprintf(conn, "ERR %v\n", err)
			} else {
				fmt.Fprintln(conn, "OK")
			}
		default:
			fmt.Fprintf(conn, "ERR unknown command %q\n", fields[0])
		}
	}
}

// Close stops serving and withdraws the DNS-SD advertisement.
func (c *Controller) Close() error {
	c.cancel()
	return c.listener.Close()
}
