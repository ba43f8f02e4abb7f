package telnet

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// GMCP is the Generic MUD Communication Protocol negotiation state
// machine (telopt 201). The server offers IAC WILL GMCP; a client that
// answers DO may then exchange structured messages as subnegotiations of
// the form IAC SB 201 <package> <space> <json> IAC SE.
type GMCP struct {
	offered bool
	active  bool
	refused bool
}

// NewGMCP returns an idle negotiator.
func NewGMCP() *GMCP {
	return &GMCP{}
}

// Offer returns IAC WILL GMCP.
func (g *GMCP) Offer() []byte {
	g.offered = true
	return []byte{IAC, WILL, TeloptGMCP}
}

// HandleDo processes IAC DO GMCP.
func (g *GMCP) HandleDo() {
	if g.offered {
		g.active = true
	}
}

// HandleDont processes IAC DONT GMCP.
func (g *GMCP) HandleDont() {
	g.active = false
	g.refused = true
}

// Timeout marks the feature unsupported after the negotiation window.
func (g *GMCP) Timeout() {
	if !g.active {
		g.refused = true
	}
}

// Active reports whether GMCP messages may be sent to this client.
func (g *GMCP) Active() bool {
	return g.active
}

// Done reports whether the negotiation reached a terminal state.
func (g *GMCP) Done() bool {
	return g.active || g.refused
}

// EncodeGMCP builds one GMCP subnegotiation from a package name and a
// JSON-encodable payload. A nil payload sends the bare package name,
// which GMCP allows.
func EncodeGMCP(pkg string, payload any) ([]byte, error) {
	body := pkg
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("telnet: encoding GMCP %s: %w", pkg, err)
		}
		body = pkg + " " + string(data)
	}
	buf := make([]byte, 0, len(body)+5)
	buf = append(buf, IAC, SB, TeloptGMCP)
	buf = append(buf, []byte(body)...)
	buf = append(buf, IAC, SE)
	return buf, nil
}

// ParseGMCP splits an inbound GMCP subnegotiation payload (the bytes
// between SB 201 and IAC SE) into package name and raw JSON. The JSON
// part is nil when the client sent a bare package name.
func ParseGMCP(data []byte) (pkg string, raw []byte) {
	if i := bytes.IndexByte(data, ' '); i >= 0 {
		return string(data[:i]), data[i+1:]
	}
	return string(data), nil
}
