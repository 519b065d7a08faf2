package server

import (
	"io"
	"os"
	"time"
)

// Driver is the backend the server authenticates against. It returns a
// session-specific ClientContext that isolates the user's file operations.
//
// Implementations should return os.ErrPermission for invalid credentials;
// the server translates it to a 530 reply.
type Driver interface {
	Authenticate(user, pass string) (ClientContext, error)
}

// ClientContext is a single session's view of the filesystem. All paths
// are relative to the user's root directory and use forward slashes.
//
// Error conventions:
//   - os.ErrNotExist when a path is missing
//   - os.ErrPermission for denied operations
//   - os.ErrExist when a path already exists
//
// The server translates these to the matching FTP reply codes.
// Implementations must be safe for use by a single session at a time.
type ClientContext interface {
	ChangeDir(path string) error
	GetWd() (string, error)
	MakeDir(path string) error
	RemoveDir(path string) error
	DeleteFile(path string) error
	Rename(fromPath, toPath string) error
	ListDir(path string) ([]os.FileInfo, error)

	// OpenFile opens a file with os.O_* flags. The returned handle should
	// implement io.Seeker when REST support is wanted.
	OpenFile(path string, flag int) (io.ReadWriteCloser, error)
	GetFileInfo(path string) (os.FileInfo, error)

	// GetHash computes a file digest. Supported algorithms: SHA-256,
	// SHA-512, SHA-1, MD5, CRC32.
	GetHash(path, algo string) (string, error)
	SetTime(path string, t time.Time) error
	Chmod(path string, mode os.FileMode) error

	// Close releases the context when the session ends.
	Close() error

	// GetSettings returns passive-mode settings for this session.
	// May return nil.
	GetSettings() *Settings
}

// Settings carries per-driver passive mode configuration. The passive
// port pool itself is configured on the server (WithPassivePorts).
type Settings struct {
	// PublicHost is advertised in PASV replies. If empty, the server uses
	// the control connection's local address. Required behind NAT.
	PublicHost string
}

// User is an account record as seen by the server core. Accounts are
// owned by a UserManager; sessions hold a lookup handle only.
type User interface {
	Name() string
	HomeDir() string

	// MaxIdleSeconds returns the per-user idle budget; 0 means the server
	// default applies.
	MaxIdleSeconds() int

	// WriteAllowed reports whether the account may modify the filesystem.
	WriteAllowed() bool
}

// UserManager stores and authenticates user accounts. The server consumes
// it for login, for the periodic sweep's Reload, and for gating the SITE
// administrative commands on AdminName.
//
// Implementations must be safe for concurrent use.
type UserManager interface {
	Authenticate(name, pass string) (User, error)
	GetUserByName(name string) (User, error)
	DoesExist(name string) (bool, error)
	Save(u User) error
	Delete(name string) error

	// Reload re-reads the backing store, picking up external edits.
	Reload() error

	AdminName() string
}

// IPRestrictor decides whether a remote address may connect at all.
// Checked once per accepted control connection, before the banner.
type IPRestrictor interface {
	HasPermission(ip string) bool
}
