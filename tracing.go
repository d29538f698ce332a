package packguard

import (
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer delegates to the global provider once one is installed.
var tracer = otel.Tracer("github.com/MrEthical07/packguard")

// endSpan records the outcome of a traced operation. Expected rejections
// (bad credentials, denials) are tagged with their client code but leave the
// span status unset; anything else marks the span as failed.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("packguard.code", ErrorCode(err)))
		if isInternal(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func isInternal(err error) bool {
	for _, kind := range []error{ErrUnauthorized, ErrForbidden, ErrValidation, ErrConflict, ErrNotFound, ErrRateLimited} {
		if errors.Is(err, kind) {
			return false
		}
	}
	return true
}
