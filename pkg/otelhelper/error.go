package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span failed and tags it with the engine error kind. A nil error leaves it untouched.
func SetError(span trace.Span, err error, kind string) {
	if err == nil {
		return
	}

	span.SetAttributes(attribute.String(ErrorKindKey, kind))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
