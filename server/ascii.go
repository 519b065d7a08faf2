package server

import (
	"io"
)

// ASCII type transfers rewrite line endings on the wire: LF becomes CRLF
// on the way out (RETR) and CRLF becomes LF on the way in (STOR). Lone CR
// bytes and existing CRLF pairs pass through untouched.

// lfToCRLFReader converts LF to CRLF for outbound ASCII transfers.
type lfToCRLFReader struct {
	r      io.Reader
	out    []byte
	err    error
	prevCR bool
	raw    [4096]byte
}

func newLFToCRLFReader(r io.Reader) io.Reader {
	return &lfToCRLFReader{r: r}
}

func (c *lfToCRLFReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(c.out) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		n, err := c.r.Read(c.raw[:])
		for _, b := range c.raw[:n] {
			if b == '\n' && !c.prevCR {
				c.out = append(c.out, '\r')
			}
			c.prevCR = b == '\r'
			c.out = append(c.out, b)
		}
		c.err = err
		if n == 0 && err != nil {
			return 0, err
		}
	}

	n := copy(p, c.out)
	c.out = c.out[n:]
	return n, nil
}

// crlfToLFReader converts CRLF to LF for inbound ASCII transfers.
type crlfToLFReader struct {
	r         io.Reader
	out       []byte
	err       error
	pendingCR bool
	raw       [4096]byte
}

func newCRLFToLFReader(r io.Reader) io.Reader {
	return &crlfToLFReader{r: r}
}

func (c *crlfToLFReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(c.out) == 0 {
		if c.err != nil {
			// Flush a CR held back at the stream boundary.
			if c.pendingCR {
				c.pendingCR = false
				c.out = append(c.out, '\r')
				break
			}
			return 0, c.err
		}
		n, err := c.r.Read(c.raw[:])
		for _, b := range c.raw[:n] {
			if c.pendingCR {
				switch b {
				case '\n':
					c.pendingCR = false
					c.out = append(c.out, '\n')
				case '\r':
					// Emit the earlier CR, stay in the held state.
					c.out = append(c.out, '\r')
				default:
					c.pendingCR = false
					c.out = append(c.out, '\r', b)
				}
				continue
			}
			if b == '\r' {
				c.pendingCR = true
				continue
			}
			c.out = append(c.out, b)
		}
		c.err = err
	}

	n := copy(p, c.out)
	c.out = c.out[n:]
	return n, nil
}
