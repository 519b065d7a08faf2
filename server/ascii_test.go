package server

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestLFToCRLFReader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		out  string
	}{
		{"bare LF converted", "a\nb\n", "a\r\nb\r\n"},
		{"existing CRLF untouched", "a\r\nb\r\n", "a\r\nb\r\n"},
		{"mixed endings", "a\nb\r\nc", "a\r\nb\r\nc"},
		{"lone CR passes through", "a\rb", "a\rb"},
		{"empty input", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := io.Copy(&buf, newLFToCRLFReader(strings.NewReader(tt.in)))
			fatalIfErr(t, err, "copy")
			if buf.String() != tt.out {
				t.Errorf("got %q, want %q", buf.String(), tt.out)
			}
		})
	}
}

func TestCRLFToLFReader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		out  string
	}{
		{"CRLF converted", "a\r\nb\r\n", "a\nb\n"},
		{"bare LF untouched", "a\nb\n", "a\nb\n"},
		{"lone CR kept", "a\rb", "a\rb"},
		{"trailing CR at EOF kept", "abc\r", "abc\r"},
		{"consecutive CRs before LF", "a\r\r\nb", "a\r\nb"},
		{"empty input", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := io.Copy(&buf, newCRLFToLFReader(strings.NewReader(tt.in)))
			fatalIfErr(t, err, "copy")
			if buf.String() != tt.out {
				t.Errorf("got %q, want %q", buf.String(), tt.out)
			}
		})
	}
}

// chunkReader yields one byte per Read to exercise state kept across
// chunk boundaries.
type chunkReader struct {
	data []byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	p[0] = c.data[0]
	c.data = c.data[1:]
	return 1, nil
}

func TestCRLFToLFReaderSplitAcrossReads(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_, err := io.Copy(&buf, newCRLFToLFReader(&chunkReader{data: []byte("a\r\nb\r")}))
	fatalIfErr(t, err, "copy")
	if buf.String() != "a\nb\r" {
		t.Errorf("got %q, want %q", buf.String(), "a\nb\r")
	}
}

func TestLFToCRLFReaderSplitAcrossReads(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_, err := io.Copy(&buf, newLFToCRLFReader(&chunkReader{data: []byte("a\r\nb\n")}))
	fatalIfErr(t, err, "copy")
	if buf.String() != "a\r\nb\r\n" {
		t.Errorf("got %q, want %q", buf.String(), "a\r\nb\r\n")
	}
}
