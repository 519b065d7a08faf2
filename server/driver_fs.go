package server

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// FSDriver implements Driver on top of an afero filesystem.
//
// Security model:
//   - Each session is jailed in a BasePathFs rooted at the user's home
//     directory; path traversal cannot escape it.
//   - Read-only mode is enforced at the operation level.
//   - Each session gets an isolated ClientContext with its own working
//     directory.
//
// Default behavior (no options):
//   - Allows anonymous login ("ftp" or "anonymous" users only)
//   - Anonymous users have read-only access
//   - Backed by the OS filesystem
type FSDriver struct {
	backing  afero.Fs
	rootPath string

	// authenticator optionally validates credentials and returns the
	// home directory and read-only flag for the user. If nil, the driver
	// falls back to anonymous-only access rooted at rootPath.
	authenticator func(user, pass string) (string, bool, error)

	// disableAnonymous turns off the default anonymous access. Only
	// effective when authenticator is nil; a custom authenticator owns
	// the whole decision.
	disableAnonymous bool

	// enableAnonWrite lifts the read-only restriction on anonymous
	// sessions.
	enableAnonWrite bool

	settings *Settings
}

// FSDriverOption is a functional option for configuring an FSDriver.
type FSDriverOption func(*FSDriver)

// NewFSDriver creates a filesystem driver rooted at rootPath. The root
// must exist and be a directory on the backing filesystem.
//
// Basic usage:
//
//	driver, err := server.NewFSDriver("/srv/ftp")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// With custom authentication and per-user homes:
//
//	driver, err := server.NewFSDriver("/home",
//	    server.WithAuthenticator(func(user, pass string) (string, bool, error) {
//	        if validate(user, pass) {
//	            return "/home/" + user, false, nil
//	        }
//	        return "", false, os.ErrPermission
//	    }))
func NewFSDriver(rootPath string, options ...FSDriverOption) (*FSDriver, error) {
	d := &FSDriver{
		backing:  afero.NewOsFs(),
		rootPath: rootPath,
	}
	for _, opt := range options {
		opt(d)
	}

	info, err := d.backing.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", rootPath)
	}

	return d, nil
}

// WithBackingFs replaces the OS filesystem with another afero backend.
// afero.NewMemMapFs() gives a throwaway in-memory server for tests.
func WithBackingFs(fs afero.Fs) FSDriverOption {
	return func(d *FSDriver) {
		d.backing = fs
	}
}

// WithAuthenticator sets a custom authentication function. It receives
// the USER and PASS values and returns the user's home directory on the
// backing filesystem, a read-only flag, and an error (os.ErrPermission
// for bad credentials).
func WithAuthenticator(fn func(user, pass string) (string, bool, error)) FSDriverOption {
	return func(d *FSDriver) {
		d.authenticator = fn
	}
}

// WithDisableAnonymous turns off the default anonymous-only login. Only
// meaningful without a custom authenticator.
func WithDisableAnonymous(disable bool) FSDriverOption {
	return func(d *FSDriver) {
		d.disableAnonymous = disable
	}
}

// WithAnonWrite allows anonymous users to modify the filesystem.
// Default is read-only. Use with caution.
func WithAnonWrite(enable bool) FSDriverOption {
	return func(d *FSDriver) {
		d.enableAnonWrite = enable
	}
}

// WithSettings attaches passive-mode settings handed to every session.
func WithSettings(settings *Settings) FSDriverOption {
	return func(d *FSDriver) {
		d.settings = settings
	}
}

// Authenticate validates the credentials and returns a session context
// jailed in the user's home directory.
func (d *FSDriver) Authenticate(user, pass string) (ClientContext, error) {
	home := d.rootPath
	readOnly := false

	if d.authenticator != nil {
		var err error
		home, readOnly, err = d.authenticator(user, pass)
		if err != nil {
			return nil, err
		}
	} else {
		if d.disableAnonymous {
			return nil, os.ErrPermission
		}
		if !isAnonymousName(user) {
			return nil, os.ErrPermission
		}
		readOnly = !d.enableAnonWrite
	}

	if info, err := d.backing.Stat(home); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("home directory unavailable: %s", home)
	}

	jail := afero.NewBasePathFs(d.backing, home)
	if readOnly {
		jail = afero.NewReadOnlyFs(jail)
	}

	return &fsContext{
		fs:       jail,
		cwd:      "/",
		readOnly: readOnly,
		settings: d.settings,
	}, nil
}

// fsContext implements ClientContext over a jailed afero filesystem. It
// tracks a virtual working directory; all paths handed to the backend
// are absolute within the jail.
type fsContext struct {
	fs       afero.Fs
	cwd      string
	readOnly bool
	settings *Settings
}

func (c *fsContext) Close() error {
	c.fs = nil
	return nil
}

// resolve turns an FTP path, absolute or relative to the working
// directory, into a clean absolute path within the jail.
func (c *fsContext) resolve(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(c.cwd, p)
	}
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (c *fsContext) ChangeDir(p string) error {
	target := c.resolve(p)
	info, err := c.fs.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}
	c.cwd = target
	return nil
}

func (c *fsContext) GetWd() (string, error) {
	return c.cwd, nil
}

func (c *fsContext) MakeDir(p string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	return c.fs.Mkdir(c.resolve(p), 0755)
}

func (c *fsContext) RemoveDir(p string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	target := c.resolve(p)
	info, err := c.fs.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}
	return c.fs.Remove(target)
}

func (c *fsContext) DeleteFile(p string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	target := c.resolve(p)
	info, err := c.fs.Stat(target)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New("is a directory")
	}
	return c.fs.Remove(target)
}

func (c *fsContext) Rename(fromPath, toPath string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	return c.fs.Rename(c.resolve(fromPath), c.resolve(toPath))
}

func (c *fsContext) ListDir(p string) ([]os.FileInfo, error) {
	return afero.ReadDir(c.fs, c.resolve(p))
}

func (c *fsContext) OpenFile(p string, flag int) (io.ReadWriteCloser, error) {
	if c.readOnly && flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, os.ErrPermission
	}
	return c.fs.OpenFile(c.resolve(p), flag, 0644)
}

func (c *fsContext) GetFileInfo(p string) (os.FileInfo, error) {
	return c.fs.Stat(c.resolve(p))
}

// GetHash computes a file digest. Supported algorithms: SHA-256,
// SHA-512, SHA-1, MD5, CRC32.
func (c *fsContext) GetHash(p, algo string) (string, error) {
	f, err := c.fs.Open(c.resolve(p))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var h interface {
		io.Writer
		Sum(b []byte) []byte
	}

	switch strings.ToUpper(algo) {
	case "SHA-256", "SHA256":
		h = sha256.New()
	case "SHA-512", "SHA512":
		h = sha512.New()
	case "SHA-1", "SHA1":
		h = sha1.New()
	case "MD5":
		h = md5.New()
	case "CRC32":
		h = crc32.NewIEEE()
	default:
		return "", errors.New("unsupported algorithm")
	}

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *fsContext) SetTime(p string, t time.Time) error {
	if c.readOnly {
		return os.ErrPermission
	}
	return c.fs.Chtimes(c.resolve(p), t, t)
}

func (c *fsContext) Chmod(p string, mode os.FileMode) error {
	if c.readOnly {
		return os.ErrPermission
	}
	if mode > 0777 {
		return os.ErrInvalid
	}
	return c.fs.Chmod(c.resolve(p), mode)
}

func (c *fsContext) GetSettings() *Settings {
	return c.settings
}
