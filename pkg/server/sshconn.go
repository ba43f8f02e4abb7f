package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/duskhaven-mud/duskhaven/pkg/session"
)

// sshConn adapts one SSH session channel into a session.Transport.
// Game authentication happens in-band at the login screen; the SSH
// layer accepts any credentials.
type sshConn struct {
	srv  *Server
	ch   ssh.Channel
	conn *ssh.ServerConn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Protocol names the wire protocol.
func (c *sshConn) Protocol() string { return "ssh" }

// Addr is the remote address.
func (c *sshConn) Addr() string { return c.conn.RemoteAddr().String() }

// WriteText delivers output with CR LF line endings for the terminal.
func (c *sshConn) WriteText(text string, meta map[string]any) {
	text = normalizeNewlines(text)
	if !strings.HasSuffix(text, "\n") {
		text += "\r\n"
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.ch.Write([]byte(text)); err != nil {
		log.Printf("[%s] ssh write: %v", c.Addr(), err)
		return
	}
	c.srv.metrics.BytesSent.Add(float64(len(text)))
}

// Close tears down the channel and the underlying SSH connection.
func (c *sshConn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.ch.Close()
		c.conn.Close()
	})
}

// loadOrCreateHostKey loads an ed25519 host key from path, generating
// and persisting one on first run.
func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if data, err := os.ReadFile(path); err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("ssh: parsing host key %s: %w", path, err)
		}
		return signer, nil
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ssh: generating host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, fmt.Errorf("ssh: marshaling host key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("ssh: writing host key %s: %w", path, err)
	}
	log.Printf("ssh: new host key written to %s", path)
	return ssh.NewSignerFromKey(priv)
}

// sshServerConfig accepts any transport-level credentials; the real
// login happens at the game's own login screen.
func sshServerConfig(hostKey ssh.Signer) *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		NoClientAuth: true,
		PasswordCallback: func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(hostKey)
	return cfg
}

// handleSSHConn runs the SSH handshake and serves session channels.
func (srv *Server) handleSSHConn(raw net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(raw, cfg)
	if err != nil {
		log.Printf("ssh handshake from %s: %v", raw.RemoteAddr(), err)
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			log.Printf("ssh channel accept from %s: %v", conn.RemoteAddr(), err)
			continue
		}
		go srv.runSSHSession(conn, ch, chReqs)
	}
}

// runSSHSession wires one accepted channel into the session layer and
// runs the line editor until the client goes away.
func (srv *Server) runSSHSession(conn *ssh.ServerConn, ch ssh.Channel, reqs <-chan *ssh.Request) {
	c := &sshConn{srv: srv, ch: ch, conn: conn}
	s := session.NewSession(srv.reg.NextID(), c, srv.Execute)
	cfg := srv.live.Get()
	s.SetEncoding("utf-8", cfg.EncodingFallbacks)
	if err := srv.reg.Add(s); err != nil {
		log.Printf("[%s] registering session: %v", c.Addr(), err)
		ch.Close()
		return
	}
	srv.metrics.Connections.WithLabelValues("ssh").Inc()
	log.Printf("[%d] New ssh connection from %s", s.ID(), c.Addr())

	// pty-req and shell are granted; window-change updates the stored
	// screen size just like telnet NAWS.
	go func() {
		for req := range reqs {
			switch req.Type {
			case "pty-req", "shell":
				req.Reply(true, nil)
			case "window-change":
				if w, h, ok := parseWindowChange(req.Payload); ok {
					s.SetProtocolFlag("SCREENWIDTH", w)
					s.SetProtocolFlag("SCREENHEIGHT", h)
				}
				if req.WantReply {
					req.Reply(true, nil)
				}
			default:
				req.Reply(false, nil)
			}
		}
	}()

	c.WriteText(cfg.WelcomeText, nil)
	c.editLoop(s)
	s.Disconnect("")
	log.Printf("[%d] SSH connection closed from %s", s.ID(), c.Addr())
}

// editLoop is a minimal line editor over the raw channel: local echo,
// backspace, Ctrl-C clears the line, Ctrl-D on an empty line quits,
// Ctrl-L redraws, Ctrl-\ force-quits.
func (c *sshConn) editLoop(s *session.Session) {
	var line []byte
	buf := make([]byte, 256)
	for {
		n, err := c.ch.Read(buf)
		if err != nil {
			return
		}
		c.srv.metrics.BytesRecv.Add(float64(n))
		for _, b := range buf[:n] {
			switch b {
			case '\r', '\n':
				c.echo("\r\n")
				s.DataIn(string(line), nil)
				line = line[:0]
			case 0x7f, 0x08: // backspace
				if len(line) > 0 {
					line = line[:len(line)-1]
					c.echo("\b \b")
				}
			case 0x03: // Ctrl-C
				line = line[:0]
				c.echo("^C\r\n")
			case 0x04: // Ctrl-D
				if len(line) == 0 {
					s.Disconnect("Goodbye!")
					return
				}
			case 0x0c: // Ctrl-L
				c.echo("\r\n" + string(line))
			case 0x1c: // Ctrl-backslash
				s.Disconnect("")
				return
			default:
				if b >= 0x20 || b == '\t' {
					line = append(line, b)
					c.echo(string(b))
				}
			}
			if s.IsClosed() {
				return
			}
		}
	}
}

func (c *sshConn) echo(text string) {
	c.writeMu.Lock()
	c.ch.Write([]byte(text))
	c.writeMu.Unlock()
}

// parseWindowChange decodes the window-change request payload (four
// big-endian uint32s: cols, rows, xpixels, ypixels).
func parseWindowChange(payload []byte) (w, h int, ok bool) {
	if len(payload) < 8 {
		return 0, 0, false
	}
	return int(binary.BigEndian.Uint32(payload)), int(binary.BigEndian.Uint32(payload[4:])), true
}
