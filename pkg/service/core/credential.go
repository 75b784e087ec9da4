package core

import (
	"fmt"
)

// CredentialMode says how a username or password was configured
type CredentialMode int

const (
	// CredentialUnset means no value was configured; usernames fall back to
	// the OS login name, passwords resolve to empty
	CredentialUnset CredentialMode = iota
	// CredentialValue means a literal value was configured
	CredentialValue
	// CredentialPrompt means the value must be requested interactively,
	// exactly once per connector lifetime
	CredentialPrompt
	// CredentialSuppress means the credential is explicitly absent
	CredentialSuppress
)

// Credential is the parsed form of a loose-typed credential config value
// (string literal, true = prompt, false = suppress).
type Credential struct {
	mode  CredentialMode
	value string
}

// ParseCredential converts a config value into a Credential
func ParseCredential(v interface{}) (Credential, error) {
	switch c := v.(type) {
	case nil:
		return Credential{mode: CredentialUnset}, nil
	case string:
		return Credential{mode: CredentialValue, value: c}, nil
	case bool:
		if c {
			return Credential{mode: CredentialPrompt}, nil
		}
		return Credential{mode: CredentialSuppress}, nil
	default:
		return Credential{}, fmt.Errorf("credential must be a string or boolean, got %T", v)
	}
}

// Mode returns the credential mode
func (c Credential) Mode() CredentialMode {
	return c.mode
}

// Value returns the literal value for CredentialValue credentials
func (c Credential) Value() string {
	return c.value
}

// Equal reports whether two credentials were configured identically
func (c Credential) Equal(other Credential) bool {
	return c.mode == other.mode && c.value == other.value
}
