package middlewarex

import "context"

type ctxKey string

const (
	ctxMerchantKey ctxKey = "merchant_key"
)

func WithMerchantKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxMerchantKey, key)
}

func MerchantKey(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxMerchantKey).(string)
	return v, ok
}
