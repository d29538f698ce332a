package packguard

import (
	"context"
)

// QueryAudit returns one newest-first page of audit records. Only Admins may
// read the trail. Page defaults to 1 and PageSize to 50, capped at 200.
func (e *Engine) QueryAudit(ctx context.Context, actor *Identity, query AuditQuery) (AuditPage, error) {
	if err := requireAdmin(actor); err != nil {
		return AuditPage{}, err
	}
	if e.audits == nil {
		return AuditPage{}, kindError(ErrDependencyUnavailable, "audit store not configured")
	}
	if !query.From.IsZero() && !query.To.IsZero() && query.To.Before(query.From) {
		return AuditPage{}, invalidf("audit range end precedes start")
	}
	query = normalizeAuditQuery(query)

	page, err := e.audits.QueryAudit(ctx, query)
	if err != nil {
		return AuditPage{}, wrapStore("query audit", err)
	}
	if page.Records == nil {
		page.Records = []AuditRecord{}
	}
	return page, nil
}

func normalizeAuditQuery(q AuditQuery) AuditQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = defaultAuditPageSize
	case q.PageSize > maxAuditPageSize:
		q.PageSize = maxAuditPageSize
	}
	return q
}
