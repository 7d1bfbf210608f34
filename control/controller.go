// Package control is the C8 runtime control surface: a line-oriented telnet
// listener and a JSON-over-WebSocket listener, sharing one command table, so
// an operator (or a script) can inspect and steer a running attack without
// restarting it. Listener setup is grounded on fortio's fnet.Listen
// (same "name + port, normalize port, log the bound address" pattern);
// the command table itself (help/host/users/hatchrate/...) is this
// project's own design, since original_source/src/control.rs only ever
// implemented a minimal exit/quit/echo/stop stub.
package control // import "github.com/fortio-goat/goatling/control"

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"fortio.org/log"

	"github.com/fortio-goat/goatling/fnet"
	"github.com/fortio-goat/goatling/loadshape"
	"github.com/fortio-goat/goatling/version"
)

// DefaultTelnetPort is the default bind port for the telnet controller.
const DefaultTelnetPort = "5116"

// DefaultWebSocketPort is the default bind port for the WebSocket controller.
const DefaultWebSocketPort = "5117"

// maxLineBytes caps one telnet command line, guarding against a client that
// never sends a newline.
const maxLineBytes = 1024

// Command is one controller verb. Args is the raw remainder of the command
// line, unsplit (commands that take no argument ignore it).
type Command struct {
	Name string
	Args string
}

// Backend is everything the command table needs from the running attack;
// the attack package implements it.
type Backend interface {
	Status() string
	Host() string
	SetHost(string) error
	UserCount() int
	SetUserCount(int) error
	HatchRate() float64
	SetHatchRate(float64) error
	TestPlan() string
	SetTestPlan(string) error
	SetRunTime(time.Duration) error
	Start() error
	Stop() error
	Shutdown() error
	MetricsReport() string
	ConfigReport() string
}

// Controller owns the telnet and WebSocket listeners and dispatches every
// parsed Command to Backend.
type Controller struct {
	backend Backend
}

// New wraps backend for serving.
func New(backend Backend) *Controller {
	return &Controller{backend: backend}
}

// Dispatch runs one command against the backend and returns its reply text.
// keepOpen is false only for "exit"/"quit", telling the caller to close the
// connection after writing the reply.
func (c *Controller) Dispatch(cmd Command) (reply string, keepOpen bool) {
	switch strings.ToLower(cmd.Name) {
	case "help", "?":
		return helpText, true
	case "host":
		if cmd.Args == "" {
			return c.backend.Host(), true
		}
		if err := c.backend.SetHost(cmd.Args); err != nil {
			return "error: " + err.Error(), true
		}
		return "host set to " + cmd.Args, true
	case "users":
		if cmd.Args == "" {
			return strconv.Itoa(c.backend.UserCount()), true
		}
		n, err := strconv.Atoi(strings.TrimSpace(cmd.Args))
		if err != nil {
			return "error: invalid user count: " + err.Error(), true
		}
		if err := c.backend.SetUserCount(n); err != nil {
			return "error: " + err.Error(), true
		}
		return "users configured", true
	case "hatchrate", "hatch-rate", "hatch_rate":
		if cmd.Args == "" {
			return fmt.Sprintf("%.2f", c.backend.HatchRate()), true
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(cmd.Args), 64)
		if err != nil {
			return "error: invalid hatch rate: " + err.Error(), true
		}
		if err := c.backend.SetHatchRate(rate); err != nil {
			return "error: " + err.Error(), true
		}
		return "hatch_rate configured", true
	case "runtime":
		if cmd.Args == "" {
			return c.backend.TestPlan(), true
		}
		d, err := loadshape.ParseDuration(strings.TrimSpace(cmd.Args))
		if err != nil {
			return "error: invalid run time: " + err.Error(), true
		}
		if err := c.backend.SetRunTime(d); err != nil {
			return "error: " + err.Error(), true
		}
		return "run_time configured", true
	case "test_plan", "testplan":
		if cmd.Args == "" {
			return c.backend.TestPlan(), true
		}
		if err := c.backend.SetTestPlan(cmd.Args); err != nil {
			return "error: " + err.Error(), true
		}
		return "test-plan configured", true
	case "start":
		if err := c.backend.Start(); err != nil {
			return "error: " + err.Error(), true
		}
		return "load test started", true
	case "stop":
		if err := c.backend.Stop(); err != nil {
			return "error: " + err.Error(), true
		}
		return "stopped", true
	case "shutdown":
		if err := c.backend.Shutdown(); err != nil {
			return "error: " + err.Error(), true
		}
		return "shutting down", true
	case "metrics":
		return c.backend.MetricsReport(), true
	case "config":
		return c.backend.ConfigReport(), true
	case "version":
		return version.Long(), true
	case "echo":
		return cmd.Args, true
	case "exit", "quit":
		return "bye", false
	case "":
		return "", true
	default:
		return fmt.Sprintf("unknown command %q, try help", cmd.Name), true
	}
}

const helpText = `available commands:
  help                   this text
  host [url]             show or set the target host
  users [n]              show the active user count, or set it (Idle only)
  hatchrate [rate]       show or set the hatch (spawn) rate
  runtime [duration]     show the test plan, or set its hold duration
  test_plan [steps]      show the test plan, or replace it (Idle only)
  start                  start the attack, or run its plan again once finished
  stop                   stop the attack; every user despawns and the run finishes
  shutdown               stop the attack and exit the process
  metrics                print a metrics summary
  config                 print the active configuration
  version                print build version information
  echo <text>            echo text back (for scripting/liveness checks)
  exit | quit            close this connection`

// ParseLine splits one telnet input line into a Command.
func ParseLine(line string) Command {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}
	}
	parts := strings.SplitN(line, " ", 2)
	cmd := Command{Name: parts[0]}
	if len(parts) == 2 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// ServeTelnet binds port and serves the line protocol until ctx is
// canceled. Each connection gets a "goose> " prompt after every reply.
func (c *Controller) ServeTelnet(ctx context.Context, port string) error {
	listener, addr := fnet.Listen("goatling controller", port)
	if listener == nil {
		return fmt.Errorf("controller: failed to listen on %s", port)
	}
	log.Infof("controller: telnet listening on %s", addr)
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go c.handleTelnetConn(conn)
	}
}

func (c *Controller) handleTelnetConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReaderSize(conn, maxLineBytes)
	fmt.Fprint(conn, "goose> ")
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		if len(line) > maxLineBytes {
			fmt.Fprintln(conn, "error: line too long")
			continue
		}
		cmd := ParseLine(line)
		reply, keepOpen := c.Dispatch(cmd)
		if reply != "" {
			fmt.Fprintln(conn, reply)
		}
		if !keepOpen {
			return
		}
		fmt.Fprint(conn, "goose> ")
	}
}
