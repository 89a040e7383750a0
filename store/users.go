// Package store holds the persistent side of the server: the user
// directory and the whole-server JSON snapshot.
package store

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/lguibr/lockstep/utils"
	"golang.org/x/crypto/bcrypt"
)

// ErrAuth is the uniform bad-credentials error; it never distinguishes a
// missing user from a wrong password.
var ErrAuth = errors.New("bad username or password")

// Usernames are ASCII alphanumeric, not starting with a digit, 3-16 chars.
var usernameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{2,15}$`)

// ValidUsername reports whether the name is an acceptable username.
func ValidUsername(name string) bool {
	return usernameRE.MatchString(name)
}

// User is one account record.
type User struct {
	PasswordHash string `json:"passwordHash"`
	Config       string `json:"config,omitempty"`
	Admin        bool   `json:"admin,omitempty"`
	// SelfServeOrigin records the remote address that self-served the
	// account, empty for operator-created accounts.
	SelfServeOrigin string `json:"selfServeOrigin,omitempty"`
}

// Users is the account directory. It is owned by the server actor; all
// mutation happens on that loop, and snapshot reads take a copy.
type Users struct {
	byName map[string]*User
}

// NewUsers creates an empty directory.
func NewUsers() *Users {
	return &Users{byName: make(map[string]*User)}
}

// UsersFrom wraps a snapshot's user map.
func UsersFrom(m map[string]*User) *Users {
	if m == nil {
		m = make(map[string]*User)
	}
	return &Users{byName: m}
}

// Map returns a copy of the directory for snapshotting.
func (u *Users) Map() map[string]*User {
	out := make(map[string]*User, len(u.byName))
	for name, user := range u.byName {
		copied := *user
		out[name] = &copied
	}
	return out
}

// Authenticate checks the password and returns the account.
func (u *Users) Authenticate(name, password string) (*User, error) {
	user, ok := u.byName[name]
	if !ok {
		return nil, ErrAuth
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrAuth
	}
	return user, nil
}

// Create adds an account. The username must be valid and free.
func (u *Users) Create(name, password, config, origin string, admin bool) error {
	if !ValidUsername(name) {
		return fmt.Errorf("invalid username")
	}
	if _, exists := u.byName[name]; exists {
		return fmt.Errorf("username taken")
	}
	if len(config) > utils.MaxConfigBytes {
		return fmt.Errorf("config too long")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	u.byName[name] = &User{
		PasswordHash:    string(hash),
		Config:          config,
		Admin:           admin,
		SelfServeOrigin: origin,
	}
	return nil
}

// SetPassword replaces the account's password hash. The record is swapped
// copy-on-write so concurrent snapshot copies stay consistent.
func (u *Users) SetPassword(name, newPassword string) error {
	user, ok := u.byName[name]
	if !ok {
		return ErrAuth
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	updated := *user
	updated.PasswordHash = string(hash)
	u.byName[name] = &updated
	return nil
}

// Config returns the account's opaque config string.
func (u *Users) Config(name string) (string, error) {
	user, ok := u.byName[name]
	if !ok {
		return "", ErrAuth
	}
	return user.Config, nil
}

// SetConfig replaces the account's opaque config string.
func (u *Users) SetConfig(name, config string) error {
	user, ok := u.byName[name]
	if !ok {
		return ErrAuth
	}
	if len(config) > utils.MaxConfigBytes {
		return fmt.Errorf("config too long")
	}
	updated := *user
	updated.Config = config
	u.byName[name] = &updated
	return nil
}
