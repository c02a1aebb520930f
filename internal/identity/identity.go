// Package identity handles the opaque addresses that name users and
// rooms on the federation: "local-part@domain", optionally carrying a
// "/resource" suffix on room traffic to name the member who spoke.
package identity

import (
	"fmt"
	"strings"
)

// Identity is a bare address, local-part@domain.
type Identity string

// Parse validates and normalizes an address string. The resource part,
// if present, is stripped.
func Parse(s string) (Identity, error) {
	bare, _ := split(s)
	local, domain, ok := strings.Cut(bare, "@")
	if !ok || local == "" || domain == "" {
		return "", fmt.Errorf("malformed address %q", s)
	}
	return Identity(strings.ToLower(local) + "@" + strings.ToLower(domain)), nil
}

// MustParse is Parse for addresses the program itself constructs.
func MustParse(s string) Identity {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Bare returns the address without any resource suffix.
func Bare(s string) string {
	bare, _ := split(s)
	return bare
}

// Resource returns the resource suffix of a full address, or "".
// Room traffic uses it to carry the sending member's own address.
func Resource(s string) string {
	_, res := split(s)
	return res
}

func split(s string) (bare, resource string) {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// Local returns the local-part of the identity. Encrypted group
// variants are keyed by it, and directory nodes are named after it.
func (id Identity) Local() string {
	local, _, _ := strings.Cut(string(id), "@")
	return local
}

// Domain returns the domain part of the identity.
func (id Identity) Domain() string {
	_, domain, _ := strings.Cut(string(id), "@")
	return domain
}

func (id Identity) String() string { return string(id) }

// WithResource returns the full address id/resource.
func (id Identity) WithResource(resource string) string {
	if resource == "" {
		return string(id)
	}
	return string(id) + "/" + resource
}
