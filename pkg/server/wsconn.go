package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duskhaven-mud/duskhaven/pkg/session"
)

// Outbound frame sentinels. A frame is either plain command output, an
// out-of-band JSON payload, or a prompt that the client should render
// without a trailing newline.
const (
	wsOOBPrefix    = "OOB"
	wsPromptPrefix = "PROMPT"
)

// wsConn adapts a WebSocket connection into a session.Transport. Text
// frames starting with the OOB sentinel carry structured
// {"instruction": [args]} payloads in both directions; everything else
// is command traffic.
type wsConn struct {
	srv  *Server
	ws   *websocket.Conn
	addr string

	writeMu   sync.Mutex
	sess      *session.Session
	closeOnce sync.Once
}

// Protocol names the wire protocol.
func (c *wsConn) Protocol() string { return "websocket" }

// Addr is the remote address, honoring X-Forwarded-For when the server
// sits behind a proxy.
func (c *wsConn) Addr() string { return c.addr }

// WriteText delivers one unit of output. meta["prompt"] routes through
// the PROMPT sentinel; meta["oob"] (an instruction name) wraps the
// payload as an OOB frame.
func (c *wsConn) WriteText(text string, meta map[string]any) {
	if meta != nil {
		if _, ok := meta["prompt"]; ok {
			c.writeFrame(wsPromptPrefix + text)
			return
		}
		if instr, ok := meta["oob"].(string); ok {
			args, _ := meta["args"].([]any)
			c.WriteOOB(instr, args...)
			return
		}
	}
	c.writeFrame(text)
}

// WriteOOB sends a structured out-of-band payload.
func (c *wsConn) WriteOOB(instruction string, args ...any) {
	payload := map[string][]any{instruction: args}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[%s] encoding OOB %q: %v", c.addr, instruction, err)
		return
	}
	c.writeFrame(wsOOBPrefix + string(data))
}

func (c *wsConn) writeFrame(frame string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		log.Printf("[%s] websocket write: %v", c.addr, err)
		return
	}
	c.srv.metrics.BytesSent.Add(float64(len(frame)))
}

// Close tears down the WebSocket.
func (c *wsConn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
	})
}

// handleWebSocket upgrades an HTTP request and runs the session.
func (srv *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}

	c := &wsConn{srv: srv, ws: ws, addr: clientAddr(r)}
	s := session.NewSession(srv.reg.NextID(), c, srv.Execute)
	c.sess = s
	cfg := srv.live.Get()
	s.SetEncoding("utf-8", nil)
	if err := srv.reg.Add(s); err != nil {
		log.Printf("[%s] registering session: %v", c.addr, err)
		ws.Close()
		return
	}
	srv.metrics.Connections.WithLabelValues("websocket").Inc()
	log.Printf("[%d] New websocket connection from %s", s.ID(), c.addr)

	// A valid token logs the session straight in, bypassing the login
	// screen. This is the page-reload path, so the relink is a resync:
	// no login signals, no announcements.
	if token := r.URL.Query().Get("token"); token != "" {
		srv.tokenLogin(s, token)
	}
	if !s.LoggedIn() {
		c.writeFrame(cfg.WelcomeText)
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		srv.metrics.BytesRecv.Add(float64(len(data)))
		c.handleFrame(s, string(data))
		if s.IsClosed() {
			return
		}
	}
	s.Disconnect("")
	log.Printf("[%d] Websocket closed from %s", s.ID(), c.addr)
}

// handleFrame routes one inbound frame: OOB payloads to the instruction
// dispatcher, everything else to the command path.
func (c *wsConn) handleFrame(s *session.Session, frame string) {
	if !strings.HasPrefix(frame, wsOOBPrefix) {
		s.DataIn(frame, nil)
		return
	}

	var payload map[string][]any
	if err := json.Unmarshal([]byte(frame[len(wsOOBPrefix):]), &payload); err != nil {
		// Malformed OOB frames are dropped, never fatal.
		log.Printf("[%d] dropping malformed OOB frame: %v", s.ID(), err)
		return
	}
	for instruction, args := range payload {
		dispatchOOB(s, c, instruction, args)
	}
}

// tokenLogin links a session to its account from a JWT, as a resync.
func (srv *Server) tokenLogin(s *session.Session, token string) {
	claims, err := srv.auth.ValidateToken(token)
	if err != nil {
		log.Printf("[%d] token login rejected: %v", s.ID(), err)
		return
	}
	rec, err := srv.world.Store().GetAccount(claims.AccountID)
	if err != nil {
		log.Printf("[%d] token login for missing account #%d", s.ID(), claims.AccountID)
		return
	}
	acct := srv.world.Account(rec)
	if acct.Sessions.Add(s, false, true) {
		log.Printf("[%d] Account %s(#%d) resumed via token from %s",
			s.ID(), acct.Name, acct.ID, s.Address())
		s.Msg(fmt.Sprintf("Welcome back, %s!", acct.Name))
		srv.world.AutoPuppet(s, acct)
	}
}

// clientAddr prefers X-Forwarded-For so proxied connections report the
// real client.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
