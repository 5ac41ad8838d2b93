package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// Attribute keys that may carry submitter data are never exported.
var blockedAttributeKeys = map[attribute.Key]struct{}{
	"name":          {},
	"email":         {},
	"feedback_text": {},
}

// ExtractContext pulls upstream trace headers into ctx.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

type kinded interface {
	Kind() string
}

// classified is implemented by errors whose kind is itself an error value.
type classified interface {
	KindName() string
}

type safeError struct{ msg string }

func (e safeError) Error() string { return e.msg }

// SafeError replaces err with its classification so span events never carry
// driver output or submitter input.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	var c classified
	if errors.As(err, &c) {
		return safeError{msg: c.KindName()}
	}
	var k kinded
	if errors.As(err, &k) {
		return safeError{msg: k.Kind()}
	}
	return safeError{msg: fmt.Sprintf("%T", err)}
}
