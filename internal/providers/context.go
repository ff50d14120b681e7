package providers

import "context"

type documentIDKey struct{}

// WithDocumentID tags ctx so provider calls made under it are audited against id.
func WithDocumentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, documentIDKey{}, id)
}

func DocumentIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(documentIDKey{}).(string)
	return id
}
