package telnet

import "sort"

// EncodeMSSP builds an MSSP telnet subnegotiation sequence from key-value
// pairs. Format: IAC SB 70 VAR "key" VAL "value" ... IAC SE. Keys are
// emitted in sorted order so the payload is deterministic.
func EncodeMSSP(data map[string]string) []byte {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{IAC, SB, TeloptMSSP}
	for _, k := range keys {
		buf = append(buf, MSSPVar)
		buf = append(buf, []byte(k)...)
		buf = append(buf, MSSPVal)
		buf = append(buf, []byte(data[k])...)
	}
	buf = append(buf, IAC, SE)
	return buf
}

// MSSP is the server-status negotiation state machine. The server offers
// IAC WILL MSSP; a client that answers DO receives one status payload.
type MSSP struct {
	offered bool
	sent    bool
	refused bool
}

// NewMSSP returns an idle negotiator.
func NewMSSP() *MSSP {
	return &MSSP{}
}

// Offer returns IAC WILL MSSP.
func (m *MSSP) Offer() []byte {
	m.offered = true
	return []byte{IAC, WILL, TeloptMSSP}
}

// HandleDo processes IAC DO MSSP and returns the encoded status payload.
func (m *MSSP) HandleDo(status map[string]string) []byte {
	if !m.offered || m.sent {
		return nil
	}
	m.sent = true
	return EncodeMSSP(status)
}

// HandleDont processes IAC DONT MSSP.
func (m *MSSP) HandleDont() {
	m.refused = true
}

// Timeout marks the feature unsupported after the negotiation window.
func (m *MSSP) Timeout() {
	if !m.sent {
		m.refused = true
	}
}

// Done reports whether the negotiation reached a terminal state.
func (m *MSSP) Done() bool {
	return m.sent || m.refused
}

// Sent reports whether the status payload was delivered.
func (m *MSSP) Sent() bool {
	return m.sent
}
