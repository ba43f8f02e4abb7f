package server

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/duskhaven-mud/duskhaven/pkg/session"
	"github.com/duskhaven-mud/duskhaven/pkg/telnet"
)

const writeDeadline = 5 * time.Second

// telnetConn adapts a raw TCP (or TLS) connection into a
// session.Transport, running the telnet option negotiations and the
// outgoing escaping/encoding/compression pipeline.
type telnetConn struct {
	srv   *Server
	conn  net.Conn
	proto string

	// negMu serializes the negotiation state machines between the read
	// loop and the per-option timeout timers, which run on timer
	// goroutines via Session.After.
	negMu sync.Mutex
	ttype *telnet.TTYPE
	mccp  *telnet.MCCP
	mssp  *telnet.MSSP
	gmcp  *telnet.GMCP

	writeMu sync.Mutex
	zw      *zlib.Writer

	sess      *session.Session
	closeOnce sync.Once
}

func newTelnetConn(srv *Server, conn net.Conn, proto string) *telnetConn {
	return &telnetConn{
		srv:   srv,
		conn:  conn,
		proto: proto,
		ttype: telnet.NewTTYPE(),
		mccp:  telnet.NewMCCP(),
		mssp:  telnet.NewMSSP(),
		gmcp:  telnet.NewGMCP(),
	}
}

// Protocol names the wire protocol.
func (t *telnetConn) Protocol() string { return t.proto }

// Addr is the remote address.
func (t *telnetConn) Addr() string { return t.conn.RemoteAddr().String() }

// WriteText frames one unit of output: newline normalization, encoding
// with the session's fallback chain, IAC escaping, then the raw write
// path (which compresses when MCCP is active). meta["oob"] routes
// structured payloads over GMCP when the client negotiated it.
func (t *telnetConn) WriteText(text string, meta map[string]any) {
	if meta != nil {
		if instr, ok := meta["oob"].(string); ok {
			args, _ := meta["args"].([]any)
			t.WriteOOB(instr, args...)
			return
		}
	}
	text = normalizeNewlines(text)
	if len(text) == 0 || text[len(text)-1] != '\n' {
		text += "\r\n"
	}

	primary, fallbacks := "utf-8", []string(nil)
	if t.sess != nil {
		primary, fallbacks = t.sess.Encoding()
	}
	data, used, err := session.EncodeWithFallback(text, primary, fallbacks)
	if err != nil {
		// Nothing in the chain could represent the text; say so in
		// plain ASCII rather than sending mojibake.
		data = []byte("*** Some output could not be displayed by your client. ***\r\n")
	} else if used != primary {
		log.Printf("[%s] output fell back to encoding %s", t.Addr(), used)
	}

	t.writeRaw(telnet.EscapeIAC(data))
}

// WriteOOB sends a structured payload as a GMCP subnegotiation. Clients
// that never negotiated GMCP silently miss out-of-band traffic, matching
// how a plain telnet client behaves everywhere else.
func (t *telnetConn) WriteOOB(instruction string, args ...any) {
	t.negMu.Lock()
	active := t.gmcp.Active()
	t.negMu.Unlock()
	if !active {
		return
	}
	var payload any
	switch len(args) {
	case 0:
	case 1:
		payload = args[0]
	default:
		payload = args
	}
	frame, err := telnet.EncodeGMCP(instruction, payload)
	if err != nil {
		log.Printf("[%s] %v", t.Addr(), err)
		return
	}
	t.writeRaw(frame)
}

// writeRaw writes bytes under the write lock with a deadline, through
// the zlib stream when compression is active.
func (t *telnetConn) writeRaw(data []byte) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	var err error
	if t.zw != nil {
		if _, err = t.zw.Write(data); err == nil {
			err = t.zw.Flush()
		}
	} else {
		_, err = t.conn.Write(data)
	}
	if err != nil {
		log.Printf("[%s] write: %v", t.Addr(), err)
		return
	}
	t.srv.metrics.BytesSent.Add(float64(len(data)))
}

// startCompression switches the output stream to zlib. The marker must
// be the last uncompressed bytes.
func (t *telnetConn) startCompression(marker []byte) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	t.conn.Write(marker)
	t.zw = t.mccp.NewWriter(t.conn)
}

// Close tears down the network connection.
func (t *telnetConn) Close(reason string) {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		if t.zw != nil {
			t.zw.Close()
			t.zw = nil
		}
		t.writeMu.Unlock()
		t.conn.Close()
	})
}

// normalizeNewlines converts bare LF line endings to the CR LF the
// telnet NVT requires.
func normalizeNewlines(text string) string {
	var buf bytes.Buffer
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\n' && (i == 0 || text[i-1] != '\r') {
			buf.WriteByte('\r')
		}
		buf.WriteByte(c)
	}
	return buf.String()
}

// handleTelnetConn runs one telnet connection: session setup, option
// negotiation, then the read loop until the peer goes away.
func (srv *Server) handleTelnetConn(conn net.Conn, proto string) {
	t := newTelnetConn(srv, conn, proto)
	s := session.NewSession(srv.reg.NextID(), t, srv.Execute)
	t.sess = s

	cfg := srv.live.Get()
	s.SetEncoding(cfg.DefaultEncoding, cfg.EncodingFallbacks)
	if err := srv.reg.Add(s); err != nil {
		log.Printf("[%s] registering session: %v", t.Addr(), err)
		conn.Close()
		return
	}
	srv.metrics.Connections.WithLabelValues(proto).Inc()
	log.Printf("[%d] New %s connection from %s", s.ID(), proto, t.Addr())

	t.negotiate(s, cfg)
	t.WriteText(cfg.WelcomeText, nil)

	buf := make([]byte, 4096)
	parser := telnet.NewParser()
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			srv.metrics.BytesRecv.Add(float64(n))
			for _, ev := range parser.Feed(buf[:n]) {
				t.handleEvent(s, ev)
			}
		}
		if err != nil {
			break
		}
		if s.IsClosed() {
			return
		}
	}
	s.Disconnect("")
	log.Printf("[%d] Connection closed from %s", s.ID(), t.Addr())
}

// negotiate offers the supported telnet options and arms one timeout
// per negotiation so an unresponsive client costs nothing but silence.
func (t *telnetConn) negotiate(s *session.Session, cfg *Config) {
	t.writeRaw(t.ttype.Offer())
	t.writeRaw(t.mssp.Offer())
	t.writeRaw(t.mccp.Offer())
	t.writeRaw(t.gmcp.Offer())
	t.writeRaw(telnet.OfferNAWS())

	wait := time.Duration(cfg.NegotiateTimeout) * time.Millisecond
	s.After(wait, func() {
		t.negMu.Lock()
		if !t.ttype.Done() {
			t.ttype.Timeout()
			t.storeTTYPE(s)
		}
		t.negMu.Unlock()
	})
	s.After(wait, func() { t.negTimeout(t.mccp.Timeout) })
	s.After(wait, func() { t.negTimeout(t.mssp.Timeout) })
	s.After(wait, func() { t.negTimeout(t.gmcp.Timeout) })
}

// negTimeout runs one negotiator's timeout under the negotiation lock.
func (t *telnetConn) negTimeout(fn func()) {
	t.negMu.Lock()
	fn()
	t.negMu.Unlock()
}

// handleEvent dispatches one parsed telnet event.
func (t *telnetConn) handleEvent(s *session.Session, ev telnet.Event) {
	switch ev.Kind {
	case telnet.EventLine:
		_, fallbacks := s.Encoding()
		line := session.DecodeBytes([]byte(ev.Line), fallbacks)
		s.DataIn(line, nil)

	case telnet.EventCmd:
		t.handleCmd(s, ev.Cmd, ev.Opt)

	case telnet.EventSubneg:
		t.handleSubneg(s, ev.Opt, ev.Payload)
	}
}

func (t *telnetConn) handleCmd(s *session.Session, cmd, opt byte) {
	t.negMu.Lock()
	defer t.negMu.Unlock()
	switch {
	case cmd == telnet.WILL && opt == telnet.TeloptTTYPE:
		if req := t.ttype.HandleWill(); req != nil {
			t.writeRaw(req)
		}
	case cmd == telnet.WONT && opt == telnet.TeloptTTYPE:
		t.ttype.HandleWont()
		t.storeTTYPE(s)

	case cmd == telnet.DO && opt == telnet.TeloptMCCP2:
		if marker := t.mccp.HandleDo(); marker != nil {
			t.startCompression(marker)
			s.SetProtocolFlag("MCCP", true)
			log.Printf("[%d] MCCP2 compression enabled", s.ID())
		}
	case cmd == telnet.DONT && opt == telnet.TeloptMCCP2:
		t.mccp.HandleDont()
		s.SetProtocolFlag("MCCP", false)

	case cmd == telnet.DO && opt == telnet.TeloptMSSP:
		if payload := t.mssp.HandleDo(t.srv.msspStatus()); payload != nil {
			t.writeRaw(payload)
			log.Printf("[%d] MSSP status sent", s.ID())
		}
	case cmd == telnet.DONT && opt == telnet.TeloptMSSP:
		t.mssp.HandleDont()

	case cmd == telnet.DO && opt == telnet.TeloptGMCP:
		t.gmcp.HandleDo()
		if t.gmcp.Active() {
			s.SetProtocolFlag("GMCP", true)
			log.Printf("[%d] GMCP enabled", s.ID())
		}
	case cmd == telnet.DONT && opt == telnet.TeloptGMCP:
		t.gmcp.HandleDont()
		s.SetProtocolFlag("GMCP", false)
	}
}

func (t *telnetConn) handleSubneg(s *session.Session, opt byte, payload []byte) {
	switch opt {
	case telnet.TeloptTTYPE:
		t.negMu.Lock()
		if req := t.ttype.HandleSub(payload); req != nil {
			t.writeRaw(req)
		}
		if t.ttype.Done() {
			t.storeTTYPE(s)
		}
		t.negMu.Unlock()

	case telnet.TeloptNAWS:
		if w, h, ok := telnet.ParseNAWS(payload); ok {
			s.SetProtocolFlag("SCREENWIDTH", w)
			s.SetProtocolFlag("SCREENHEIGHT", h)
		}

	case telnet.TeloptGMCP:
		t.negMu.Lock()
		active := t.gmcp.Active()
		t.negMu.Unlock()
		if !active {
			return
		}
		instruction, raw := telnet.ParseGMCP(payload)
		var args []any
		if raw != nil {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				log.Printf("[%d] dropping malformed GMCP %s: %v", s.ID(), instruction, err)
				return
			}
			// A JSON array becomes the argument list; anything else is a
			// single argument.
			if list, ok := v.([]any); ok {
				args = list
			} else {
				args = []any{v}
			}
		}
		dispatchOOB(s, t, instruction, args)
	}
}

// storeTTYPE copies the negotiated capability map onto the session, and
// narrows the output encoding for clients that declared UTF-8 support.
// Callers hold negMu.
func (t *telnetConn) storeTTYPE(s *session.Session) {
	flags := make(map[string]any, len(t.ttype.Flags))
	for k, v := range t.ttype.Flags {
		flags[k] = v
	}
	s.SetProtocolFlag("TTYPE", flags)
	if utf8ok, _ := flags["UTF-8"].(bool); utf8ok {
		_, fallbacks := s.Encoding()
		s.SetEncoding("utf-8", fallbacks)
	}
}

// msspStatus assembles the crawler-facing status payload from config
// plus live counts.
func (srv *Server) msspStatus() map[string]string {
	cfg := srv.live.Get()
	status := map[string]string{
		"NAME":    cfg.MudName,
		"PLAYERS": strconv.Itoa(srv.reg.Count(false)),
		"UPTIME":  fmt.Sprintf("%d", srv.startTime.Unix()),
	}
	for k, v := range cfg.MSSP {
		status[k] = v
	}
	return status
}
