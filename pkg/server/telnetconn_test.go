package server

import (
	"bytes"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/duskhaven-mud/duskhaven/pkg/telnet"
)

func TestNormalizeNewlines(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello\n", "hello\r\n"},
		{"hello\r\n", "hello\r\n"},
		{"a\nb\nc", "a\r\nb\r\nc"},
		{"already\r\nmixed\n", "already\r\nmixed\r\n"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeNewlines(tt.in); got != tt.want {
			t.Errorf("normalizeNewlines(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// pipeClient collects everything the server writes and lets the test
// send client bytes.
type pipeClient struct {
	conn net.Conn

	mu  sync.Mutex
	buf bytes.Buffer
	eof chan struct{}
}

func newPipeClient(conn net.Conn) *pipeClient {
	c := &pipeClient{conn: conn, eof: make(chan struct{})}
	go func() {
		defer close(c.eof)
		b := make([]byte, 1024)
		for {
			n, err := conn.Read(b)
			if n > 0 {
				c.mu.Lock()
				c.buf.Write(b[:n])
				c.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return c
}

func (c *pipeClient) send(t *testing.T, data []byte) {
	t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.conn.Write(data); err != nil {
		t.Fatalf("client write: %v", err)
	}
}

func (c *pipeClient) received() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *pipeClient) waitFor(t *testing.T, sub string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(c.received(), sub) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in %q", sub, c.received())
}

func TestTelnetSessionOverPipe(t *testing.T) {
	srv := newTestServer(t)
	serverSide, clientSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.handleTelnetConn(serverSide, "telnet")
	}()
	client := newPipeClient(clientSide)

	// The server leads with its option offers, then the welcome screen.
	client.waitFor(t, "create <name> <password>")
	if !strings.Contains(client.received(), string([]byte{telnet.IAC, telnet.DO, telnet.TeloptTTYPE})) {
		t.Error("server must offer TTYPE")
	}
	if !strings.Contains(client.received(), string([]byte{telnet.IAC, telnet.WILL, telnet.TeloptMCCP2})) {
		t.Error("server must offer MCCP2")
	}

	client.send(t, []byte("create bob sekrit\r\n"))
	client.waitFor(t, "account has been created")

	client.send(t, []byte("quit\r\n"))
	client.waitFor(t, "Goodbye!")

	select {
	case <-client.eof:
	case <-time.After(2 * time.Second):
		t.Fatal("connection must close after quit")
	}
	<-done
	if srv.reg.Count(true) != 0 {
		t.Error("registry must be empty after quit")
	}
}

func TestTelnetGMCPPingPong(t *testing.T) {
	srv := newTestServer(t)
	serverSide, clientSide := net.Pipe()
	go srv.handleTelnetConn(serverSide, "telnet")
	client := newPipeClient(clientSide)
	defer clientSide.Close()

	client.waitFor(t, "create <name> <password>")
	client.send(t, []byte{telnet.IAC, telnet.DO, telnet.TeloptGMCP})

	payload := append([]byte{telnet.IAC, telnet.SB, telnet.TeloptGMCP}, []byte("ping")...)
	payload = append(payload, telnet.IAC, telnet.SE)
	client.send(t, payload)

	client.waitFor(t, string([]byte{telnet.IAC, telnet.SB, telnet.TeloptGMCP})+"pong")
}

// The timeout timers fire on their own goroutines; they must serialize
// with the read loop instead of corrupting the negotiation state.
func TestTelnetTTYPETimeoutDuringExchange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AuditDatabase = ""
	cfg.NegotiateTimeout = 1
	srv := newTestServerWithConfig(t, cfg)

	serverSide, clientSide := net.Pipe()
	go srv.handleTelnetConn(serverSide, "telnet")
	client := newPipeClient(clientSide)
	defer clientSide.Close()

	client.waitFor(t, "create <name> <password>")
	client.send(t, []byte{telnet.IAC, telnet.WILL, telnet.TeloptTTYPE})
	for _, name := range []string{"MUDLET", "xterm-256color", "MTTS 9"} {
		payload := append([]byte{telnet.IAC, telnet.SB, telnet.TeloptTTYPE, telnet.TTYPEIs}, []byte(name)...)
		payload = append(payload, telnet.IAC, telnet.SE)
		client.send(t, payload)
		time.Sleep(time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sessions := srv.reg.All(); len(sessions) == 1 {
			if v, ok := sessions[0].ProtocolFlag("TTYPE"); ok {
				if flags := v.(map[string]any); flags["init_done"] == true {
					break
				}
			}
		}
		time.Sleep(time.Millisecond)
	}

	// The connection must survive the interleaving and keep working.
	client.send(t, []byte("create racer sekrit\r\n"))
	client.waitFor(t, "account has been created")
}

func TestTelnetTTYPEFlagsReachSession(t *testing.T) {
	srv := newTestServer(t)
	serverSide, clientSide := net.Pipe()
	go srv.handleTelnetConn(serverSide, "telnet")
	client := newPipeClient(clientSide)
	defer clientSide.Close()

	client.waitFor(t, "create <name> <password>")
	client.send(t, []byte{telnet.IAC, telnet.WILL, telnet.TeloptTTYPE})

	sendTTYPE := func(name string) {
		payload := append([]byte{telnet.IAC, telnet.SB, telnet.TeloptTTYPE, telnet.TTYPEIs}, []byte(name)...)
		payload = append(payload, telnet.IAC, telnet.SE)
		client.send(t, payload)
	}
	sendTTYPE("MUDLET")
	sendTTYPE("xterm-256color")
	sendTTYPE("MTTS 9")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sessions := srv.reg.All()
		if len(sessions) == 1 {
			if v, ok := sessions[0].ProtocolFlag("TTYPE"); ok {
				flags := v.(map[string]any)
				if flags["init_done"] == true {
					if flags["ANSI"] != true || flags["256_COLORS"] != true {
						t.Fatalf("MTTS 9 should set ANSI and 256_COLORS, got %v", flags)
					}
					if flags["CLIENTNAME"] != "MUDLET" {
						t.Fatalf("CLIENTNAME = %v", flags["CLIENTNAME"])
					}
					return
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("TTYPE negotiation never settled")
}
