package server

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/spf13/afero"
)

func newMemDriver(t *testing.T, opts ...FSDriverOption) (*FSDriver, afero.Fs) {
	t.Helper()
	backing := afero.NewMemMapFs()
	fatalIfErr(t, backing.MkdirAll("/srv/sub", 0755), "mkdir")
	fatalIfErr(t, afero.WriteFile(backing, "/srv/hello.txt", []byte("hello world"), 0644), "write file")

	driver, err := NewFSDriver("/srv", append([]FSDriverOption{WithBackingFs(backing)}, opts...)...)
	fatalIfErr(t, err, "create driver")
	return driver, backing
}

func TestFSDriverAnonymousDefaults(t *testing.T) {
	t.Parallel()

	driver, _ := newMemDriver(t)

	if _, err := driver.Authenticate("alice", "pw"); !errors.Is(err, os.ErrPermission) {
		t.Errorf("named user without authenticator: got %v, want os.ErrPermission", err)
	}

	ctx, err := driver.Authenticate("anonymous", "guest@")
	fatalIfErr(t, err, "anonymous login")
	defer ctx.Close()

	// Anonymous defaults to read-only.
	if err := ctx.MakeDir("/newdir"); !errors.Is(err, os.ErrPermission) {
		t.Errorf("anonymous mkdir: got %v, want os.ErrPermission", err)
	}
	if _, err := ctx.OpenFile("/up.txt", os.O_WRONLY|os.O_CREATE); !errors.Is(err, os.ErrPermission) {
		t.Errorf("anonymous upload: got %v, want os.ErrPermission", err)
	}

	f, err := ctx.OpenFile("/hello.txt", os.O_RDONLY)
	fatalIfErr(t, err, "open for read")
	data, err := io.ReadAll(f)
	fatalIfErr(t, err, "read")
	f.Close()
	if string(data) != "hello world" {
		t.Errorf("read %q", data)
	}
}

func TestFSDriverPathsStayInJail(t *testing.T) {
	t.Parallel()

	backing := afero.NewMemMapFs()
	fatalIfErr(t, backing.MkdirAll("/srv", 0755), "mkdir")
	fatalIfErr(t, afero.WriteFile(backing, "/secret.txt", []byte("outside"), 0644), "write outside file")

	driver, err := NewFSDriver("/srv", WithBackingFs(backing))
	fatalIfErr(t, err, "create driver")

	ctx, err := driver.Authenticate("ftp", "")
	fatalIfErr(t, err, "login")
	defer ctx.Close()

	// Escapes clean down to the jail root, never above it.
	for _, p := range []string{"../secret.txt", "/../secret.txt", "../../secret.txt"} {
		if _, err := ctx.GetFileInfo(p); err == nil {
			t.Errorf("stat %q escaped the jail", p)
		}
	}

	if err := ctx.ChangeDir(".."); err != nil {
		t.Fatalf("cd .. at root should stay at root: %v", err)
	}
	wd, _ := ctx.GetWd()
	if wd != "/" {
		t.Errorf("cwd after cd .. at root: %q", wd)
	}
}

func TestFSContextWorkingDirectory(t *testing.T) {
	t.Parallel()

	driver, _ := newMemDriver(t)
	ctx, err := driver.Authenticate("ftp", "")
	fatalIfErr(t, err, "login")
	defer ctx.Close()

	fatalIfErr(t, ctx.ChangeDir("sub"), "cd sub")
	wd, err := ctx.GetWd()
	fatalIfErr(t, err, "pwd")
	if wd != "/sub" {
		t.Errorf("cwd: got %q, want /sub", wd)
	}

	if err := ctx.ChangeDir("/hello.txt"); err == nil {
		t.Error("cd into a file should fail")
	}
	if err := ctx.ChangeDir("/missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("cd missing: got %v, want os.ErrNotExist", err)
	}

	// Relative paths resolve against the working directory.
	entries, err := ctx.ListDir("..")
	fatalIfErr(t, err, "list ..")
	found := false
	for _, e := range entries {
		if e.Name() == "hello.txt" {
			found = true
		}
	}
	if !found {
		t.Error("hello.txt not visible from /sub via ..")
	}
}

func TestFSContextWriteOperations(t *testing.T) {
	t.Parallel()

	driver, backing := newMemDriver(t, WithAnonWrite(true))
	ctx, err := driver.Authenticate("ftp", "")
	fatalIfErr(t, err, "login")
	defer ctx.Close()

	fatalIfErr(t, ctx.MakeDir("/incoming"), "mkdir")

	f, err := ctx.OpenFile("/incoming/up.txt", os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	fatalIfErr(t, err, "open for write")
	_, err = f.Write([]byte("payload"))
	fatalIfErr(t, err, "write")
	f.Close()

	// The file landed under the jail root on the backing filesystem.
	data, err := afero.ReadFile(backing, "/srv/incoming/up.txt")
	fatalIfErr(t, err, "read from backing fs")
	if string(data) != "payload" {
		t.Errorf("backing content %q", data)
	}

	fatalIfErr(t, ctx.Rename("/incoming/up.txt", "/incoming/renamed.txt"), "rename")
	if _, err := ctx.GetFileInfo("/incoming/up.txt"); err == nil {
		t.Error("source still present after rename")
	}
	fatalIfErr(t, ctx.DeleteFile("/incoming/renamed.txt"), "delete")
	fatalIfErr(t, ctx.RemoveDir("/incoming"), "rmdir")

	if err := ctx.DeleteFile("/sub"); err == nil {
		t.Error("DELE on a directory should fail")
	}
}

func TestFSContextGetHash(t *testing.T) {
	t.Parallel()

	driver, _ := newMemDriver(t)
	ctx, err := driver.Authenticate("ftp", "")
	fatalIfErr(t, err, "login")
	defer ctx.Close()

	// Precomputed digests of "hello world".
	want := map[string]string{
		"SHA-256": "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		"MD5":     "5eb63bbbe01eeed093cb22bb8f5acdc3",
		"SHA-1":   "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed",
		"CRC32":   "0d4a1185",
	}
	for algo, digest := range want {
		got, err := ctx.GetHash("/hello.txt", algo)
		fatalIfErr(t, err, "hash %s", algo)
		if got != digest {
			t.Errorf("%s: got %s, want %s", algo, got, digest)
		}
	}

	if _, err := ctx.GetHash("/hello.txt", "XXH64"); err == nil {
		t.Error("unsupported algorithm should fail")
	}
}

func TestFSDriverCustomAuthenticator(t *testing.T) {
	t.Parallel()

	backing := afero.NewMemMapFs()
	fatalIfErr(t, backing.MkdirAll("/homes/alice", 0755), "mkdir")

	driver, err := NewFSDriver("/homes",
		WithBackingFs(backing),
		WithAuthenticator(func(user, pass string) (string, bool, error) {
			if user == "alice" && pass == "pw" {
				return "/homes/alice", false, nil
			}
			return "", false, os.ErrPermission
		}),
	)
	fatalIfErr(t, err, "create driver")

	if _, err := driver.Authenticate("alice", "bad"); !errors.Is(err, os.ErrPermission) {
		t.Errorf("bad password: got %v", err)
	}

	ctx, err := driver.Authenticate("alice", "pw")
	fatalIfErr(t, err, "login")
	defer ctx.Close()
	fatalIfErr(t, ctx.MakeDir("/projects"), "mkdir in home")

	if ok, _ := afero.DirExists(backing, "/homes/alice/projects"); !ok {
		t.Error("directory not created in the user's home")
	}
}
