package server

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Account is a user record backed by the JSON user store. It implements
// the User interface.
type Account struct {
	name         string
	hash         string
	home         string
	idleSeconds  int
	writeAllowed bool
}

// NewAccount creates an account with a bcrypt-hashed password. home is
// the user's root directory on the driver's backing filesystem;
// idleSeconds of 0 keeps the server default.
func NewAccount(name, pass, home string, idleSeconds int, writeAllowed bool) (*Account, error) {
	if name == "" {
		return nil, fmt.Errorf("account name must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &Account{
		name:         name,
		hash:         string(hash),
		home:         home,
		idleSeconds:  idleSeconds,
		writeAllowed: writeAllowed,
	}, nil
}

func (a *Account) Name() string        { return a.name }
func (a *Account) HomeDir() string     { return a.home }
func (a *Account) MaxIdleSeconds() int { return a.idleSeconds }
func (a *Account) WriteAllowed() bool  { return a.writeAllowed }

// accountRecord is the on-disk shape of an account.
type accountRecord struct {
	PasswordHash   string `json:"passwordHash"`
	HomeDir        string `json:"homeDir"`
	MaxIdleSeconds int    `json:"maxIdleSeconds,omitempty"`
	WriteAllowed   bool   `json:"writeAllowed"`
}

// JSONUserManager is a UserManager persisted to a single JSON file.
// Passwords are stored as bcrypt hashes. The file can be edited
// externally; the server's periodic sweep calls Reload to pick changes
// up.
//
// Safe for concurrent use.
type JSONUserManager struct {
	mu       sync.RWMutex
	path     string
	admin    string
	accounts map[string]*Account
}

// dummyHash keeps Authenticate constant-time-ish for unknown users: the
// bcrypt comparison runs whether or not the account exists.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B1WFdmEn/Vx1pWc0DCEyq0HiMGVK")

// NewJSONUserManager loads the user store at path. A missing file is an
// empty store that will be created on first Save. admin names the
// account allowed to run the SITE administrative commands.
func NewJSONUserManager(path, admin string) (*JSONUserManager, error) {
	m := &JSONUserManager{
		path:     path,
		admin:    admin,
		accounts: make(map[string]*Account),
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Authenticate checks the password against the stored bcrypt hash.
// Returns os.ErrPermission for a wrong password or an unknown user.
func (m *JSONUserManager) Authenticate(name, pass string) (User, error) {
	m.mu.RLock()
	a := m.accounts[name]
	m.mu.RUnlock()

	hash := dummyHash
	if a != nil {
		hash = []byte(a.hash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(pass)); err != nil || a == nil {
		return nil, os.ErrPermission
	}
	return a, nil
}

// GetUserByName returns the account, or os.ErrNotExist if unknown.
func (m *JSONUserManager) GetUserByName(name string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return a, nil
}

func (m *JSONUserManager) DoesExist(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[name]
	return ok, nil
}

// Save upserts the account and persists the store. The User must carry a
// password hash: either an *Account from NewAccount, or the name of an
// existing account whose hash is kept.
func (m *JSONUserManager) Save(u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := u.(*Account)
	if !ok {
		existing, found := m.accounts[u.Name()]
		if !found {
			return fmt.Errorf("account %q has no stored password", u.Name())
		}
		a = &Account{
			name:         u.Name(),
			hash:         existing.hash,
			home:         u.HomeDir(),
			idleSeconds:  u.MaxIdleSeconds(),
			writeAllowed: u.WriteAllowed(),
		}
	}

	m.accounts[a.name] = a
	return m.persistLocked()
}

// Delete removes the account and persists the store.
func (m *JSONUserManager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[name]; !ok {
		return os.ErrNotExist
	}
	delete(m.accounts, name)
	return m.persistLocked()
}

// Reload re-reads the backing file, replacing the in-memory accounts.
// A missing file yields an empty store.
func (m *JSONUserManager) Reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.mu.Lock()
			m.accounts = make(map[string]*Account)
			m.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read user store: %w", err)
	}

	var records map[string]accountRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse user store: %w", err)
	}

	accounts := make(map[string]*Account, len(records))
	for name, rec := range records {
		accounts[name] = &Account{
			name:         name,
			hash:         rec.PasswordHash,
			home:         rec.HomeDir,
			idleSeconds:  rec.MaxIdleSeconds,
			writeAllowed: rec.WriteAllowed,
		}
	}

	m.mu.Lock()
	m.accounts = accounts
	m.mu.Unlock()
	return nil
}

// ListAccounts returns all accounts sorted by name.
func (m *JSONUserManager) ListAccounts() []User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]User, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (m *JSONUserManager) AdminName() string { return m.admin }

func (m *JSONUserManager) persistLocked() error {
	records := make(map[string]accountRecord, len(m.accounts))
	for name, a := range m.accounts {
		records[name] = accountRecord{
			PasswordHash:   a.hash,
			HomeDir:        a.home,
			MaxIdleSeconds: a.idleSeconds,
			WriteAllowed:   a.writeAllowed,
		}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user store: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0600); err != nil {
		return fmt.Errorf("write user store: %w", err)
	}
	return nil
}
