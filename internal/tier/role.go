package tier

import (
	"fmt"
	"strings"
)

// Role describes how one tier behaves.
type Role struct {
	Name string
	// AcceptsRegistrations installs the INITIALIZATION handler.
	AcceptsRegistrations bool
	// IssuesTokens signs an identity token for every registered peer.
	IssuesTokens bool
	// AssignsClusters mints a cluster id per registered peer; other roles
	// hand down their own.
	AssignsClusters bool
	// NeedsUpstream requires an upstream address to register with.
	NeedsUpstream bool
}

var (
	Coordinator = Role{
		Name:                 "coordinator",
		AcceptsRegistrations: true,
		IssuesTokens:         true,
		AssignsClusters:      true,
	}
	Server = Role{
		Name:                 "server",
		AcceptsRegistrations: true,
		NeedsUpstream:        true,
	}
	Node = Role{
		Name:          "node",
		NeedsUpstream: true,
	}
)

func Roles() []Role {
	return []Role{Coordinator, Server, Node}
}

// ParseRole resolves a role by name, case-insensitively.
func ParseRole(name string) (Role, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, r := range Roles() {
		if r.Name == want {
			return r, nil
		}
	}
	return Role{}, fmt.Errorf("tier: unknown role %q", name)
}

func (r Role) String() string {
	return r.Name
}
