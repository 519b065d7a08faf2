package server

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ftpd-project/ftpd/internal/ratelimit"
)

// rateLimitWriter chains the session's and the global bandwidth limiter
// around an outgoing data stream; the most restrictive wins.
func (s *session) rateLimitWriter(w io.Writer) io.Writer {
	w = ratelimit.NewWriter(w, s.limiter)
	return ratelimit.NewWriter(w, s.server.globalLimiter)
}

func (s *session) rateLimitReader(r io.Reader) io.Reader {
	r = ratelimit.NewReader(r, s.limiter)
	return ratelimit.NewReader(r, s.server.globalLimiter)
}

func (s *session) handleRETR(path string) {
	file, err := s.fs.OpenFile(path, os.O_RDONLY)
	if err != nil {
		s.replyError(err)
		return
	}
	defer file.Close()

	offset := s.restartOffset
	s.restartOffset = 0
	if offset > 0 {
		seeker, ok := file.(io.Seeker)
		if !ok {
			s.reply(550, "Resume not supported for this file.")
			return
		}
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			s.replyError(err)
			return
		}
	}

	conn, err := s.openDataConn()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer conn.Close()

	if offset > 0 {
		s.reply(150, fmt.Sprintf("Opening data connection for RETR (restarting at %d).", offset))
	} else {
		s.reply(150, "Opening data connection for RETR.")
	}

	start := time.Now()

	var src io.Reader = file
	if s.transferType == "A" {
		src = newLFToCRLFReader(file)
	}

	n, err := io.Copy(s.rateLimitWriter(conn), src)
	if err != nil {
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}

	s.finishTransfer("RETR", path, n, time.Since(start))
	s.server.stats.recordDownload(n)
	s.reply(226, "Transfer complete.")
}

func (s *session) handleSTOR(path string) {
	s.storeFile("STOR", path)
}

func (s *session) handleAPPE(path string) {
	s.storeFile("APPE", path)
}

func (s *session) handleSTOU(_ string) {
	// Unique name per RFC 1123; uuid keeps it collision-free without
	// probing the filesystem.
	s.storeFile("STOU", "ftp-"+uuid.NewString()[:13])
}

func (s *session) storeFile(verb, path string) {
	if s.userRec != nil && !s.userRec.WriteAllowed() {
		s.reply(550, "Permission denied.")
		return
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	switch {
	case verb == "APPE":
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case s.restartOffset > 0:
		flags = os.O_WRONLY | os.O_CREATE
	}

	file, err := s.fs.OpenFile(path, flags)
	if err != nil {
		s.replyError(err)
		return
	}
	defer file.Close()

	offset := s.restartOffset
	s.restartOffset = 0
	if offset > 0 && verb == "STOR" {
		seeker, ok := file.(io.Seeker)
		if !ok {
			s.reply(550, "Resume not supported for this file.")
			return
		}
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			s.replyError(err)
			return
		}
	}

	conn, err := s.openDataConn()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer conn.Close()

	if verb == "STOU" {
		s.reply(150, fmt.Sprintf("FILE: %s", path))
	} else {
		s.reply(150, "Opening data connection for "+verb+".")
	}

	start := time.Now()

	var src io.Reader = conn
	if s.transferType == "A" {
		src = newCRLFToLFReader(conn)
	}

	n, err := io.Copy(file, s.rateLimitReader(src))
	if err != nil {
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}

	s.finishTransfer(verb, path, n, time.Since(start))
	s.server.stats.recordUpload(n)
	s.reply(226, "Transfer complete.")
}

// finishTransfer emits the structured transfer log and, when configured,
// an xferlog-format line.
func (s *session) finishTransfer(verb, path string, bytes int64, duration time.Duration) {
	throughput := float64(0)
	if duration.Seconds() > 0 {
		throughput = float64(bytes) / duration.Seconds() / 1024 / 1024
	}

	s.server.logger.Info("transfer_complete",
		"session_id", s.id,
		"remote_ip", s.redactIP(s.remoteIP),
		"user", s.currentUser(),
		"operation", verb,
		"path", s.redactPath(path),
		"bytes", bytes,
		"duration_ms", duration.Milliseconds(),
		"throughput_mbps", fmt.Sprintf("%.2f", throughput),
	)

	s.writeXferlog(verb, path, bytes, duration)
}

// writeXferlog appends a wu-ftpd style xferlog line:
// time transfer-time host bytes path type _ direction access-mode user
// service auth-method auth-user completion
func (s *session) writeXferlog(verb, path string, bytes int64, duration time.Duration) {
	if s.server.transferLog == nil {
		return
	}

	transferTime := int64(duration.Seconds())
	if transferTime == 0 {
		transferTime = 1
	}

	tType := "b"
	if s.transferType == "A" {
		tType = "a"
	}

	direction := "o"
	if verb == "STOR" || verb == "APPE" || verb == "STOU" {
		direction = "i"
	}

	accessMode := "r"
	if s.isAnonymous() {
		accessMode = "a"
	}

	line := fmt.Sprintf("%s %d %s %d %s %s _ %s %s %s ftp 0 * c\n",
		time.Now().Format("Mon Jan 02 15:04:05 2006"),
		transferTime,
		s.remoteIP,
		bytes,
		path,
		tType,
		direction,
		accessMode,
		s.currentUser(),
	)
	_, _ = s.server.transferLog.Write([]byte(line))
}

func (s *session) handleTYPE(arg string) {
	switch strings.ToUpper(arg) {
	case "A", "A N":
		s.transferType = "A"
		s.reply(200, "Type set to A.")
	case "I", "L 8":
		s.transferType = "I"
		s.reply(200, "Type set to I.")
	default:
		s.reply(504, "Type not supported.")
	}
}

func (s *session) handleMODE(arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "S":
		s.reply(200, "Mode set to Stream.")
	case "B":
		s.reply(504, "Block mode not implemented.")
	case "C":
		s.reply(504, "Compressed mode not implemented.")
	default:
		s.reply(504, "Command not implemented for that parameter.")
	}
}

func (s *session) handleSTRU(arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "F":
		s.reply(200, "Structure set to File.")
	case "R":
		s.reply(504, "Record structure not implemented.")
	case "P":
		s.reply(504, "Page structure not implemented.")
	default:
		s.reply(504, "Command not implemented for that parameter.")
	}
}

func (s *session) handleREST(arg string) {
	offset, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || offset < 0 {
		s.reply(501, "Invalid offset.")
		return
	}
	s.restartOffset = offset
	s.reply(350, fmt.Sprintf("Restarting at %d. Send STOR or RETR to initiate transfer.", offset))
}

// handleABOR: transfers run synchronously inside the dispatch loop, so by
// the time ABOR is read there is never a live transfer to interrupt. Any
// configured-but-unused data connection is discarded.
func (s *session) handleABOR(_ string) {
	s.data.Dispose()
	s.reply(226, "ABOR command successful; no transfer in progress.")
}
