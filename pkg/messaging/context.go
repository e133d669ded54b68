package messaging

import "context"

type metadataKey struct{}

// ContextWithCorrelationID tags ctx so events published while handling it
// carry id.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, metadataKey{}, id)
}

// CorrelationID returns the id stored by ContextWithCorrelationID.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(metadataKey{}).(string)
	return id
}
