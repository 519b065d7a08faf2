package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/ftpd-project/ftpd/internal/portpool"
)

// validateActiveIP rejects PORT/EPRT targets that differ from the control
// connection's source, preventing FTP bounce attacks.
func (s *session) validateActiveIP(ip net.IP) bool {
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		host = s.conn.RemoteAddr().String()
	}
	remoteIP := net.ParseIP(host)
	if remoteIP == nil {
		return false
	}
	return ip.Equal(remoteIP)
}

func (s *session) handlePORT(arg string) {
	// Format: h1,h2,h3,h4,p1,p2
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		s.reply(501, "Invalid port number.")
		return
	}

	ip := net.ParseIP(strings.Join(parts[0:4], "."))
	if ip == nil {
		s.reply(501, "Invalid IP address.")
		return
	}
	if !s.validateActiveIP(ip) {
		s.reply(500, "Illegal PORT command.")
		return
	}

	s.data.SetActive(ip.String(), p1*256+p2)
	s.reply(200, "PORT command successful.")
}

func (s *session) handleEPRT(arg string) {
	if len(arg) < 4 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	// Format: <d><proto><d><ip><d><port><d>
	delim := string(arg[0])
	parts := strings.Split(arg, delim)
	if len(parts) != 5 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	proto, ipStr, portStr := parts[1], parts[2], parts[3]

	ip := net.ParseIP(ipStr)
	if ip == nil {
		s.reply(501, "Invalid network address.")
		return
	}
	if proto != "1" && proto != "2" {
		s.reply(522, "Network protocol not supported, use (1,2).")
		return
	}
	if proto == "1" && ip.To4() == nil {
		s.reply(522, "Network protocol not supported, use (2).")
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		s.reply(501, "Invalid port number.")
		return
	}
	if !s.validateActiveIP(ip) {
		s.reply(500, "Illegal EPRT command.")
		return
	}

	s.data.SetActive(ip.String(), port)
	s.reply(200, "EPRT command successful.")
}

// passiveAdvertiseHost picks the address sent back in the PASV reply:
// the driver's PublicHost when configured, else the control connection's
// local address.
func (s *session) passiveAdvertiseHost() string {
	if s.fs != nil {
		if settings := s.fs.GetSettings(); settings != nil && settings.PublicHost != "" {
			return settings.PublicHost
		}
	}
	if s.server.passivePublicHost != "" {
		return s.server.passivePublicHost
	}
	host, _, _ := net.SplitHostPort(s.conn.LocalAddr().String())
	return host
}

// resolveIPv4 turns a host into a dotted-quad, caching hostname lookups
// per session since PASV tends to repeat.
func (s *session) resolveIPv4(host string) net.IP {
	if ip := net.ParseIP(host); ip != nil {
		return ip.To4()
	}
	if host == s.lastPublicHost && s.resolvedIP != nil {
		return s.resolvedIP
	}
	addrs, err := net.LookupIP(host)
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		if ipv4 := addr.To4(); ipv4 != nil {
			s.lastPublicHost = host
			s.resolvedIP = ipv4
			return ipv4
		}
	}
	return nil
}

func (s *session) handlePASV(_ string) {
	port, err := s.data.SetPassive("")
	if err != nil {
		if err == portpool.ErrExhausted {
			s.reply(425, "No free passive port available, try again later.")
			return
		}
		s.reply(425, "Can't open passive connection.")
		return
	}

	ip := s.resolveIPv4(s.passiveAdvertiseHost())
	ipParts := []string{"0", "0", "0", "0"}
	if ip != nil && ip.To4() != nil {
		ipParts = strings.Split(ip.To4().String(), ".")
	}

	s.reply(227, fmt.Sprintf("Entering Passive Mode (%s,%s,%s,%s,%d,%d).",
		ipParts[0], ipParts[1], ipParts[2], ipParts[3], port/256, port%256))
}

func (s *session) handleEPSV(_ string) {
	port, err := s.data.SetPassive("")
	if err != nil {
		if err == portpool.ErrExhausted {
			s.reply(425, "No free passive port available, try again later.")
			return
		}
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", port))
}

// openDataConn establishes the negotiated data connection, applying TLS
// when PROT P is in effect and registering the socket with the server's
// shutdown tracking.
func (s *session) openDataConn() (net.Conn, error) {
	var tlsConfig *tls.Config
	s.mu.Lock()
	if s.prot == "P" {
		tlsConfig = s.server.tlsConfig
		if tlsConfig == nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("PROT P requested but TLS is not configured")
		}
	}
	s.mu.Unlock()

	conn, err := s.data.Open(tlsConfig)
	if err != nil {
		return nil, err
	}
	s.server.trackConn(conn, true)
	return &dataConn{Conn: conn, session: s}, nil
}

// dataConn ties a data socket's lifetime to the session: closing it
// releases the passive port reservation, refreshes the idle clock and
// drops the socket from shutdown tracking.
type dataConn struct {
	net.Conn
	session *session
}

func (c *dataConn) Close() error {
	err := c.Conn.Close()
	c.session.data.ReleasePort()
	c.session.touch()
	c.session.server.trackConn(c.Conn, false)
	return err
}

// Write refreshes the session idle clock per chunk so a long transfer is
// not reaped as idle.
func (c *dataConn) Write(p []byte) (int, error) {
	c.session.touch()
	return c.Conn.Write(p)
}

func (c *dataConn) Read(p []byte) (int, error) {
	c.session.touch()
	return c.Conn.Read(p)
}
