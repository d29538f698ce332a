package permission

import (
	"fmt"
	"strings"
)

// SystemRole is the identity-wide role. Values are ordered by privilege.
type SystemRole uint8

const (
	RoleViewer SystemRole = iota + 1
	RoleMerchandiser
	RoleDesigner
	RoleAdmin
)

// TopSystemRole is the role that bypasses document-level checks.
const TopSystemRole = RoleAdmin

var systemRoleNames = map[SystemRole]string{
	RoleViewer:       "viewer",
	RoleMerchandiser: "merchandiser",
	RoleDesigner:     "designer",
	RoleAdmin:        "admin",
}

// ParseSystemRole parses the lower-case role name.
func ParseSystemRole(s string) (SystemRole, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for role, n := range systemRoleNames {
		if n == name {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown system role %q", s)
}

// Valid reports whether r is one of the defined roles.
func (r SystemRole) Valid() bool {
	_, ok := systemRoleNames[r]
	return ok
}

// AtLeast reports whether r is at or above other in the privilege order.
func (r SystemRole) AtLeast(other SystemRole) bool {
	return r.Valid() && r >= other
}

func (r SystemRole) String() string {
	if n, ok := systemRoleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("SystemRole(%d)", uint8(r))
}

func (r SystemRole) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid system role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *SystemRole) UnmarshalText(text []byte) error {
	parsed, err := ParseSystemRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// DocumentRole is a role scoped to a single document.
type DocumentRole string

const (
	DocOwner   DocumentRole = "owner"
	DocAdmin   DocumentRole = "admin"
	DocEditor  DocumentRole = "editor"
	DocViewer  DocumentRole = "viewer"
	DocFactory DocumentRole = "factory"
)

// DocumentRoles lists every document role, most capable first.
var DocumentRoles = []DocumentRole{DocOwner, DocAdmin, DocEditor, DocViewer, DocFactory}

// ParseDocumentRole parses a document role name.
func ParseDocumentRole(s string) (DocumentRole, error) {
	role := DocumentRole(strings.ToLower(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown document role %q", s)
	}
	return role, nil
}

// Valid reports whether r is one of the defined document roles.
func (r DocumentRole) Valid() bool {
	switch r {
	case DocOwner, DocAdmin, DocEditor, DocViewer, DocFactory:
		return true
	}
	return false
}

// Shareable reports whether r may be granted through the share table.
// Owner is reserved for the document creator.
func (r DocumentRole) Shareable() bool {
	return r.Valid() && r != DocOwner
}
