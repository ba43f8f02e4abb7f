package telnet

// ParseNAWS decodes a NAWS subnegotiation payload (four bytes: width and
// height as big-endian uint16). Returns ok=false for short payloads.
func ParseNAWS(payload []byte) (width, height int, ok bool) {
	if len(payload) < 4 {
		return 0, 0, false
	}
	width = int(payload[0])<<8 | int(payload[1])
	height = int(payload[2])<<8 | int(payload[3])
	return width, height, true
}

// OfferNAWS returns IAC DO NAWS. Clients that support it follow up with
// a subnegotiation carrying their window size, and again on every resize.
func OfferNAWS() []byte {
	return []byte{IAC, DO, TeloptNAWS}
}
