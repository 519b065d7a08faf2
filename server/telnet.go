package server

import (
	"bufio"
	"io"
)

const (
	telnetIAC  = 0xFF // Interpret As Command
	telnetWILL = 0xFB
	telnetWONT = 0xFC
	telnetDO   = 0xFD
	telnetDONT = 0xFE
)

// telnetReader strips Telnet negotiation sequences from the control
// connection. Some clients (notably command-line telnet and a few old
// FTP clients) send IAC sequences that would otherwise corrupt command
// parsing.
type telnetReader struct {
	reader *bufio.Reader
}

func newTelnetReader(r io.Reader) *telnetReader {
	return &telnetReader{reader: bufio.NewReader(r)}
}

// Reset points the reader at a new source, discarding buffered state.
// Used when AUTH TLS replaces the raw connection with a TLS one.
func (t *telnetReader) Reset(r io.Reader) {
	t.reader.Reset(r)
}

// Read filters IAC sequences out of the byte stream. An escaped IAC
// (0xFF 0xFF) passes through as a single 0xFF data byte.
func (t *telnetReader) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	for n < len(p) {
		// Return what we have rather than blocking on the network for
		// more bytes.
		if n > 0 && t.reader.Buffered() == 0 {
			return n, nil
		}

		b, err := t.reader.ReadByte()
		if err != nil {
			if n > 0 {
				// Deliver the data; the error surfaces on the next call.
				return n, nil
			}
			return n, err
		}

		if b != telnetIAC {
			p[n] = b
			n++
			continue
		}

		next, err := t.reader.ReadByte()
		if err != nil {
			return n, err
		}

		switch next {
		case telnetIAC:
			p[n] = telnetIAC
			n++
		case telnetWILL, telnetWONT, telnetDO, telnetDONT:
			// Three-byte sequence IAC CMD OPT: swallow the option byte.
			if _, err := t.reader.ReadByte(); err != nil {
				return n, err
			}
		default:
			// Two-byte command, already consumed.
		}
	}

	return n, nil
}
