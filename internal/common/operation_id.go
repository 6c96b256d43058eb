package common

import (
	"context"

	"github.com/segmentio/ksuid"
)

type ctxKey string

const OperationIDKey string = "operationID"
const operationIDKeyCtx ctxKey = ctxKey(OperationIDKey)

func GenerateOperationID() string {
	return ksuid.New().String()
}

// WithOperationID attaches a time-sortable globally unique identifier to the
// context if it does not carry one yet.
func WithOperationID(ctx context.Context) (context.Context, string) {
	if oid := OperationID(ctx); oid != "" {
		return ctx, oid
	}
	oid := GenerateOperationID()
	return context.WithValue(ctx, operationIDKeyCtx, oid), oid
}

// OperationID returns the operation id stored in the context or "".
func OperationID(ctx context.Context) string {
	oid, _ := ctx.Value(operationIDKeyCtx).(string)
	return oid
}
