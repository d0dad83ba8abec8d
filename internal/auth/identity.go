package auth

import (
	"encoding/json"
	"strings"
)

type IdentityState int

const (
	// IdentityUnresolved means the auth provider has not answered yet.
	IdentityUnresolved IdentityState = iota
	// IdentityAbsent means the user is signed out.
	IdentityAbsent
	// IdentityPresent means a signed-in user with a uid.
	IdentityPresent
)

func (s IdentityState) String() string {
	switch s {
	case IdentityAbsent:
		return "absent"
	case IdentityPresent:
		return "present"
	default:
		return "unresolved"
	}
}

// Identity is the signed-in state observed by the session core.
// The zero value is unresolved.
type Identity struct {
	state IdentityState
	uid   string
}

func Unresolved() Identity { return Identity{state: IdentityUnresolved} }

func Absent() Identity { return Identity{state: IdentityAbsent} }

// Present returns a signed-in identity. A blank uid is treated as absent.
func Present(uid string) Identity {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return Absent()
	}
	return Identity{state: IdentityPresent, uid: uid}
}

func (i Identity) State() IdentityState { return i.state }

// UID returns the user id and whether the identity is present.
func (i Identity) UID() (string, bool) {
	return i.uid, i.state == IdentityPresent
}

func (i Identity) IsPresent() bool { return i.state == IdentityPresent }

func (i Identity) Equal(o Identity) bool {
	return i.state == o.state && i.uid == o.uid
}

func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		State string `json:"state"`
		UID   string `json:"uid,omitempty"`
	}{State: i.state.String(), UID: i.uid})
}
