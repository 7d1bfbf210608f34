package control

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeBackend struct {
	host      string
	users     int
	hatchRate float64
	plan      string
	started   bool
	stopped   bool
}

func (f *fakeBackend) Status() string       { return "idle" }
func (f *fakeBackend) Host() string         { return f.host }
func (f *fakeBackend) SetHost(h string) error {
	f.host = h
	return nil
}
func (f *fakeBackend) UserCount() int      { return f.users }
func (f *fakeBackend) HatchRate() float64  { return f.hatchRate }
func (f *fakeBackend) SetHatchRate(r float64) error {
	f.hatchRate = r
	return nil
}
func (f *fakeBackend) TestPlan() string      { return f.plan }
func (f *fakeBackend) Start() error          { f.started = true; return nil }
func (f *fakeBackend) Stop() error           { f.stopped = true; return nil }
func (f *fakeBackend) Shutdown() error       { return nil }
func (f *fakeBackend) MetricsReport() string { return "no data" }
func (f *fakeBackend) ConfigReport() string  { return "config" }
func (f *fakeBackend) SetUserCount(n int) error {
	f.users = n
	return nil
}
func (f *fakeBackend) SetTestPlan(p string) error {
	f.plan = p
	return nil
}
func (f *fakeBackend) SetRunTime(time.Duration) error { return nil }

func TestDispatchHostCommand(t *testing.T) {
	b := &fakeBackend{host: "http://a"}
	c := New(b)
	reply, keepOpen := c.Dispatch(ParseLine("host"))
	if !keepOpen || reply != "http://a" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	reply, _ = c.Dispatch(ParseLine("host http://b"))
	if b.host != "http://b" {
		t.Fatalf("expected host updated, got %q (%q)", b.host, reply)
	}
}

func TestDispatchExitClosesConnection(t *testing.T) {
	c := New(&fakeBackend{})
	_, keepOpen := c.Dispatch(ParseLine("exit"))
	if keepOpen {
		t.Fatal("expected exit to signal connection close")
	}
}

func TestDispatchVersionCommand(t *testing.T) {
	c := New(&fakeBackend{})
	reply, keepOpen := c.Dispatch(ParseLine("version"))
	if !keepOpen || reply == "" {
		t.Fatalf("expected non-empty version reply, got %q", reply)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	c := New(&fakeBackend{})
	reply, keepOpen := c.Dispatch(ParseLine("bogus"))
	if !keepOpen {
		t.Fatal("unknown command should not close the connection")
	}
	if reply == "" {
		t.Fatal("expected an error reply for unknown command")
	}
}

func TestServeTelnetEndToEnd(t *testing.T) {
	b := &fakeBackend{host: "http://target", hatchRate: 2, plan: "10,5s"}
	c := New(b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := fmt.Sprintf("%d", ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	go func() { _ = c.ServeTelnet(ctx, port) }()
	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", "127.0.0.1:"+port)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("could not connect to telnet controller: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	// consume prompt
	_, _ = reader.ReadString(' ')
	fmt.Fprintln(conn, "users")
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if line != "0\n" {
		t.Fatalf("expected users reply '0', got %q", line)
	}
}

func TestServeWebSocketEndToEnd(t *testing.T) {
	b := &fakeBackend{host: "http://target"}
	c := New(b)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(wsRequest{Request: "host"}); err != nil {
		t.Fatal(err)
	}
	var resp wsResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Response != "http://target" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
