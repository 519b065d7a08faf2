package server

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestUserStore(t *testing.T) (*JSONUserManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	um, err := NewJSONUserManager(path, "admin")
	fatalIfErr(t, err, "create user store")
	return um, path
}

func TestUserManagerAuthenticate(t *testing.T) {
	t.Parallel()

	um, _ := newTestUserStore(t)

	account, err := NewAccount("alice", "s3cret", "/home/alice", 120, true)
	fatalIfErr(t, err, "create account")
	fatalIfErr(t, um.Save(account), "save account")

	u, err := um.Authenticate("alice", "s3cret")
	fatalIfErr(t, err, "authenticate")
	if u.Name() != "alice" || u.HomeDir() != "/home/alice" {
		t.Errorf("unexpected account: %s %s", u.Name(), u.HomeDir())
	}
	if u.MaxIdleSeconds() != 120 || !u.WriteAllowed() {
		t.Errorf("unexpected settings: idle=%d write=%v", u.MaxIdleSeconds(), u.WriteAllowed())
	}

	if _, err := um.Authenticate("alice", "wrong"); !errors.Is(err, os.ErrPermission) {
		t.Errorf("wrong password: got %v, want os.ErrPermission", err)
	}
	if _, err := um.Authenticate("nobody", "s3cret"); !errors.Is(err, os.ErrPermission) {
		t.Errorf("unknown user: got %v, want os.ErrPermission", err)
	}
}

func TestUserManagerPersistence(t *testing.T) {
	t.Parallel()

	um, path := newTestUserStore(t)

	account, err := NewAccount("bob", "hunter2", "/home/bob", 0, false)
	fatalIfErr(t, err, "create account")
	fatalIfErr(t, um.Save(account), "save account")

	// A fresh manager over the same file sees the account with the hash
	// intact.
	um2, err := NewJSONUserManager(path, "admin")
	fatalIfErr(t, err, "reopen store")

	exists, err := um2.DoesExist("bob")
	fatalIfErr(t, err, "exists")
	if !exists {
		t.Fatal("bob missing after reload")
	}
	if _, err := um2.Authenticate("bob", "hunter2"); err != nil {
		t.Errorf("authenticate after reload: %v", err)
	}
}

func TestUserManagerDelete(t *testing.T) {
	t.Parallel()

	um, _ := newTestUserStore(t)

	account, err := NewAccount("carol", "pw", "/home/carol", 0, false)
	fatalIfErr(t, err, "create account")
	fatalIfErr(t, um.Save(account), "save account")
	fatalIfErr(t, um.Delete("carol"), "delete account")

	if exists, _ := um.DoesExist("carol"); exists {
		t.Error("carol still present after delete")
	}
	if err := um.Delete("carol"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("double delete: got %v, want os.ErrNotExist", err)
	}
}

func TestUserManagerReloadPicksUpExternalEdit(t *testing.T) {
	t.Parallel()

	um, path := newTestUserStore(t)

	account, err := NewAccount("dave", "pw", "/home/dave", 0, false)
	fatalIfErr(t, err, "create account")
	fatalIfErr(t, um.Save(account), "save account")

	// Simulate an external edit: wipe the file, then reload.
	fatalIfErr(t, os.WriteFile(path, []byte("{}"), 0600), "truncate store")
	fatalIfErr(t, um.Reload(), "reload")

	if exists, _ := um.DoesExist("dave"); exists {
		t.Error("dave survived an external wipe plus reload")
	}
}

func TestUserManagerMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	um, err := NewJSONUserManager(filepath.Join(t.TempDir(), "absent.json"), "root")
	fatalIfErr(t, err, "open missing store")
	if um.AdminName() != "root" {
		t.Errorf("admin name: got %q", um.AdminName())
	}
	if exists, _ := um.DoesExist("anyone"); exists {
		t.Error("empty store claims accounts exist")
	}
}

func TestUserManagerListAccounts(t *testing.T) {
	t.Parallel()

	um, _ := newTestUserStore(t)
	for _, name := range []string{"carol", "alice", "bob"} {
		account, err := NewAccount(name, "pw", "/home/"+name, 0, false)
		fatalIfErr(t, err, "create account")
		fatalIfErr(t, um.Save(account), "save account")
	}

	accounts := um.ListAccounts()
	if len(accounts) != 3 {
		t.Fatalf("listed %d accounts, want 3", len(accounts))
	}
	for i, want := range []string{"alice", "bob", "carol"} {
		if accounts[i].Name() != want {
			t.Errorf("account[%d] = %q, want %q", i, accounts[i].Name(), want)
		}
	}
}
