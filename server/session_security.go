package server

import (
	"bufio"
	"crypto/tls"
	"strings"
)

// handleAUTH upgrades the control connection to TLS (RFC 4217). The 234
// reply goes out in clear, then the very next bytes on the wire are the
// client's handshake; the reader goroutine is parked until the dispatch
// loop signals, so swapping the reader and writer here is race-free.
func (s *session) handleAUTH(arg string) {
	if s.server.tlsConfig == nil {
		s.reply(502, "TLS not configured.")
		return
	}
	if strings.ToUpper(arg) != "TLS" {
		s.reply(504, "Only AUTH TLS is supported.")
		return
	}

	s.reply(234, "AUTH TLS successful.")

	tlsConn := tls.Server(s.conn, s.server.tlsConfig)

	s.mu.Lock()
	s.conn = tlsConn
	s.tnet.Reset(tlsConn)
	s.reader = bufio.NewReader(s.tnet)
	s.writer = bufio.NewWriter(tlsConn)
	s.attrs["tls"] = true
	s.mu.Unlock()
}

func (s *session) handlePBSZ(_ string) {
	if s.server.tlsConfig == nil {
		s.reply(502, "TLS not configured.")
		return
	}
	// RFC 4217: only buffer size 0 is meaningful over TLS.
	s.reply(200, "PBSZ=0")
}

func (s *session) handlePROT(arg string) {
	if s.server.tlsConfig == nil {
		s.reply(502, "TLS not configured.")
		return
	}
	switch strings.ToUpper(arg) {
	case "P":
		s.mu.Lock()
		s.prot = "P"
		s.mu.Unlock()
		s.reply(200, "PROT P OK.")
	case "C":
		s.mu.Lock()
		s.prot = "C"
		s.mu.Unlock()
		s.reply(200, "PROT C OK.")
	default:
		s.reply(504, "PROT not implemented.")
	}
}
