package session

import "encoding/binary"

// Docker multiplexes stdout/stderr onto one stream with an 8-byte frame
// header: one stream discriminator octet (0=stdin, 1=stdout, 2=stderr),
// three zero padding bytes, and a 4-byte big-endian payload length. TTY
// streams are raw and carry no header, so the decoder has to detect
// framing rather than assume it.
const frameHeaderLen = 8

// looksFramed reports whether p begins with a plausible frame header.
// The payload must be longer than the header, the discriminator and padding
// must match, and the declared length must fit in the chunk; anything
// ambiguous is treated as unframed so legitimate output is never truncated.
func looksFramed(p []byte) bool {
	if len(p) <= frameHeaderLen {
		return false
	}
	if p[0] > 2 {
		return false
	}
	if p[1] != 0 || p[2] != 0 || p[3] != 0 {
		return false
	}
	size := binary.BigEndian.Uint32(p[4:frameHeaderLen])
	if size == 0 || int64(size) > int64(len(p)-frameHeaderLen) {
		return false
	}
	return true
}

// unframe strips docker stream framing from a chunk when present, unpacking
// back-to-back frames into one contiguous payload. Chunks that don't look
// framed pass through unmodified, as does any malformed trailer after the
// last well-formed frame.
func unframe(p []byte) []byte {
	if !looksFramed(p) {
		return p
	}

	out := make([]byte, 0, len(p))
	rest := p
	for looksFramed(rest) {
		size := int(binary.BigEndian.Uint32(rest[4:frameHeaderLen]))
		out = append(out, rest[frameHeaderLen:frameHeaderLen+size]...)
		rest = rest[frameHeaderLen+size:]
	}
	out = append(out, rest...)
	return out
}
