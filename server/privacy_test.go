package server

import (
	"strings"
	"testing"
)

func TestRedactPath(t *testing.T) {
	t.Parallel()

	redactMiddle := func(path string) string {
		parts := strings.Split(path, "/")
		if len(parts) <= 3 {
			return path
		}
		for i := 2; i < len(parts)-1; i++ {
			if parts[i] != "" {
				parts[i] = "*"
			}
		}
		return strings.Join(parts, "/")
	}

	tests := []struct {
		name     string
		redactor PathRedactor
		input    string
		want     string
	}{
		{"disabled", nil, "/home/user/documents/file.txt", "/home/user/documents/file.txt"},
		{"long path", redactMiddle, "/home/user/documents/file.txt", "/home/*/*/file.txt"},
		{"short path untouched", redactMiddle, "/home/file.txt", "/home/file.txt"},
		{"root file untouched", redactMiddle, "/file.txt", "/file.txt"},
		{"empty", redactMiddle, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{pathRedactor: tt.redactor}
			if got := s.redactPath(tt.input); got != tt.want {
				t.Errorf("redactPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRedactIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		enabled bool
		input   string
		want    string
	}{
		{"disabled ipv4", false, "192.168.1.100", "192.168.1.100"},
		{"ipv4", true, "192.168.1.100", "192.168.1.xxx"},
		{"ipv6 short", true, "2001:db8::1", "2001:db8::xxx"},
		{"ipv6 long", true, "2001:0db8:85a3:0000:0000:8a2e:0370:7334", "2001:0db8:85a3:0000:0000:8a2e:0370:xxx"},
		{"empty", true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{redactIPs: tt.enabled}
			if got := s.redactIP(tt.input); got != tt.want {
				t.Errorf("redactIP(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRedactionOptions(t *testing.T) {
	t.Parallel()

	_, srv, _ := newTestServer(t,
		WithRedactIPs(true),
		WithPathRedactor(func(path string) string { return "/redacted" + path }),
	)

	if !srv.redactIPs {
		t.Error("WithRedactIPs(true) not applied")
	}
	if srv.pathRedactor == nil {
		t.Error("WithPathRedactor not applied")
	}
	if got := srv.redactPath("/secret.txt"); got != "/redacted/secret.txt" {
		t.Errorf("redactPath through option = %q", got)
	}
}
