package telnet

import (
	"compress/zlib"
	"io"
)

// MCCPState tracks the compression negotiation.
type MCCPState int

const (
	MCCPInit MCCPState = iota
	MCCPOffered
	MCCPActive
	MCCPRefused
)

// MCCP is the MCCP2 (telopt 86) negotiation state machine. The server
// offers IAC WILL MCCP2; if the client answers DO, the server emits
// IAC SB MCCP2 IAC SE and from that byte on all output is a zlib stream.
// TTYPE must be settled before compression starts.
type MCCP struct {
	State MCCPState
}

// NewMCCP returns an idle negotiator.
func NewMCCP() *MCCP {
	return &MCCP{}
}

// Offer returns IAC WILL MCCP2 and moves to the offered state.
func (m *MCCP) Offer() []byte {
	m.State = MCCPOffered
	return []byte{IAC, WILL, TeloptMCCP2}
}

// HandleDo processes IAC DO MCCP2. It returns the subnegotiation start
// marker that must be written uncompressed, immediately before switching
// the output stream to zlib.
func (m *MCCP) HandleDo() []byte {
	if m.State != MCCPOffered {
		return nil
	}
	m.State = MCCPActive
	return []byte{IAC, SB, TeloptMCCP2, IAC, SE}
}

// HandleDont processes IAC DONT MCCP2.
func (m *MCCP) HandleDont() {
	m.State = MCCPRefused
}

// Timeout marks the feature unsupported after the negotiation window.
func (m *MCCP) Timeout() {
	if m.State == MCCPOffered {
		m.State = MCCPRefused
	}
}

// Active reports whether output must be compressed.
func (m *MCCP) Active() bool {
	return m.State == MCCPActive
}

// Done reports whether the negotiation reached a terminal state.
func (m *MCCP) Done() bool {
	return m.State == MCCPActive || m.State == MCCPRefused
}

// NewWriter wraps w in the zlib stream used once MCCP is active. The
// caller must Flush after each logical write so output is not held in the
// compressor across prompts.
func (m *MCCP) NewWriter(w io.Writer) *zlib.Writer {
	return zlib.NewWriter(w)
}
