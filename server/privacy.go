package server

import "strings"

// PathRedactor rewrites a file path before it reaches the logs. Use it
// to strip user-identifying path components:
//
//	func(path string) string {
//	    return regexp.MustCompile(`/users/[^/]+/`).ReplaceAllString(path, "/users/*/")
//	}
type PathRedactor func(path string) string

// redactPath applies the configured path redactor, if any.
func (s *Server) redactPath(path string) string {
	if s.pathRedactor == nil {
		return path
	}
	return s.pathRedactor(path)
}

// redactIP masks the final component of an IP address when IP redaction
// is enabled. Works on both dotted IPv4 and colon-separated IPv6.
func (s *Server) redactIP(ip string) string {
	if !s.redactIPs || ip == "" {
		return ip
	}
	idx := strings.LastIndexAny(ip, ".:")
	if idx < 0 {
		return "xxx"
	}
	return ip[:idx+1] + "xxx"
}

func (s *session) redactPath(path string) string { return s.server.redactPath(path) }
func (s *session) redactIP(ip string) string     { return s.server.redactIP(ip) }
