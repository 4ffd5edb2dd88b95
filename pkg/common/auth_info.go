package common

import (
	"bytes"
)

type AuthInfo struct {
	Username []byte `json:"username,omitempty"`
	Password []byte `json:"password,omitempty"`
}

func (a *AuthInfo) Equals(b *AuthInfo) bool {
	return bytes.Equal(a.Username, b.Username) && bytes.Equal(a.Password, b.Password)
}

// Args returns the AUTH arguments. The username is only sent when set, which
// selects the ACL form of the command.
func (a *AuthInfo) Args() [][]byte {
	if len(a.Username) == 0 {
		return [][]byte{a.Password}
	}
	return [][]byte{a.Username, a.Password}
}

func (a *AuthInfo) String() string {
	return "Username: " + string(a.Username) + ", Password: ******"
}
