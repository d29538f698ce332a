package permission

import "fmt"

// PolicyEntry maps one (system role, share role) pair to an effective role.
type PolicyEntry struct {
	System    SystemRole
	Share     DocumentRole
	Effective DocumentRole
}

// Policy is the lookup table used to combine a system role with a share
// role. Pairs without an entry resolve to the share role unchanged, so
// the zero Policy is the identity table.
type Policy struct {
	table map[SystemRole]map[DocumentRole]DocumentRole
}

// NewPolicy builds a Policy from entries. An entry is rejected when its
// effective role would grant an action the share role alone denies, or
// when it maps anything to Owner.
func NewPolicy(entries []PolicyEntry) (Policy, error) {
	table := make(map[SystemRole]map[DocumentRole]DocumentRole)
	for _, e := range entries {
		if !e.System.Valid() {
			return Policy{}, fmt.Errorf("policy: invalid system role %d", uint8(e.System))
		}
		if !e.Share.Valid() || !e.Effective.Valid() {
			return Policy{}, fmt.Errorf("policy: invalid document role in %s/%s", e.Share, e.Effective)
		}
		if e.Effective == DocOwner && e.Share != DocOwner {
			return Policy{}, fmt.Errorf("policy: %s/%s cannot resolve to owner", e.System, e.Share)
		}
		for _, a := range Actions {
			if Grants(e.Effective, a) && !Grants(e.Share, a) {
				return Policy{}, fmt.Errorf("policy: %s/%s -> %s escalates %s", e.System, e.Share, e.Effective, a)
			}
		}
		row, ok := table[e.System]
		if !ok {
			row = make(map[DocumentRole]DocumentRole)
			table[e.System] = row
		}
		if _, dup := row[e.Share]; dup {
			return Policy{}, fmt.Errorf("policy: duplicate entry for %s/%s", e.System, e.Share)
		}
		row[e.Share] = e.Effective
	}
	return Policy{table: table}, nil
}

// DefaultPolicy caps system Viewers at document Viewer for Admin and
// Editor shares. Every other pair keeps the share role.
func DefaultPolicy() Policy {
	p, err := NewPolicy([]PolicyEntry{
		{System: RoleViewer, Share: DocAdmin, Effective: DocViewer},
		{System: RoleViewer, Share: DocEditor, Effective: DocViewer},
	})
	if err != nil {
		panic(err)
	}
	return p
}

// Effective returns the effective document role for the pair.
func (p Policy) Effective(system SystemRole, share DocumentRole) DocumentRole {
	if row, ok := p.table[system]; ok {
		if eff, ok := row[share]; ok {
			return eff
		}
	}
	return share
}

// Entries returns the explicit table entries, for inspection and tests.
func (p Policy) Entries() []PolicyEntry {
	var out []PolicyEntry
	for sys := RoleViewer; sys <= RoleAdmin; sys++ {
		for _, share := range DocumentRoles {
			if eff, ok := p.table[sys][share]; ok {
				out = append(out, PolicyEntry{System: sys, Share: share, Effective: eff})
			}
		}
	}
	return out
}
