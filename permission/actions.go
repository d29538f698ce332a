package permission

import (
	"fmt"
	"strings"
	"time"
)

// Action is a capability that can be requested on a document.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionShare  Action = "share"
	ActionDelete Action = "delete"
)

// Actions lists every action in a stable order.
var Actions = []Action{ActionView, ActionEdit, ActionShare, ActionDelete}

// allowedRoles is the static action -> document role table. Delete is
// never delegable, not even to a document Admin.
var allowedRoles = map[Action][]DocumentRole{
	ActionView:   {DocOwner, DocAdmin, DocEditor, DocViewer, DocFactory},
	ActionEdit:   {DocOwner, DocAdmin, DocEditor},
	ActionShare:  {DocOwner, DocAdmin},
	ActionDelete: {DocOwner},
}

// ParseAction parses an action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := allowedRoles[a]; !ok {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Grants reports whether role may perform action.
func Grants(role DocumentRole, action Action) bool {
	for _, r := range allowedRoles[action] {
		if r == role {
			return true
		}
	}
	return false
}

// Capabilities returns the actions role may perform, in [Actions] order.
func Capabilities(role DocumentRole) []Action {
	out := make([]Action, 0, len(Actions))
	for _, a := range Actions {
		if Grants(role, a) {
			out = append(out, a)
		}
	}
	return out
}

// Document carries the fields of a document that matter for authorization.
// OwnerID is authoritative and independent of the share table.
type Document struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
}

// ShareEntry grants a document role to one user.
type ShareEntry struct {
	DocumentID string       `json:"documentId"`
	UserID     string       `json:"userId"`
	Role       DocumentRole `json:"role"`
	SharedBy   string       `json:"sharedBy"`
	SharedAt   time.Time    `json:"sharedAt"`
}
