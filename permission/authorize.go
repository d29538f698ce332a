package permission

// Subject is the caller of an authorization check.
type Subject struct {
	ID   string
	Role SystemRole
}

// Decision is the outcome of [Authorize].
type Decision struct {
	Allowed       bool         `json:"allowed"`
	EffectiveRole DocumentRole `json:"effectiveRole,omitempty"`
	Missing       []Action     `json:"missing,omitempty"`
	Reason        string       `json:"reason"`
}

const (
	ReasonSystemOverride = "system_override"
	ReasonOwner          = "document_owner"
	ReasonShare          = "share_entry"
	ReasonNoShare        = "no_share_entry"
	ReasonMissingActions = "missing_actions"
)

// Authorize decides whether sub may perform every action in actions on doc.
// share is the subject's entry for doc, or nil. No actions means view.
func Authorize(sub Subject, doc Document, share *ShareEntry, actions []Action, policy Policy) Decision {
	if len(actions) == 0 {
		actions = []Action{ActionView}
	}

	if sub.Role == TopSystemRole {
		return Decision{Allowed: true, EffectiveRole: DocOwner, Reason: ReasonSystemOverride}
	}

	var (
		role   DocumentRole
		reason string
	)
	switch {
	case sub.ID != "" && sub.ID == doc.OwnerID:
		role, reason = DocOwner, ReasonOwner
	case share != nil && share.UserID == sub.ID && share.DocumentID == doc.ID && share.Role.Valid():
		role, reason = policy.Effective(sub.Role, share.Role), ReasonShare
		// ownerId is authoritative; a stray Owner share row never confers delete.
		if role == DocOwner {
			role = DocAdmin
		}
	default:
		return Decision{Allowed: false, Missing: append([]Action(nil), actions...), Reason: ReasonNoShare}
	}

	var missing []Action
	for _, a := range actions {
		if !Grants(role, a) {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		return Decision{Allowed: false, EffectiveRole: role, Missing: missing, Reason: ReasonMissingActions}
	}
	return Decision{Allowed: true, EffectiveRole: role, Reason: reason}
}
