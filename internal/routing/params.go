package routing

import "context"

type paramsKey struct{}

// withParams attaches captured pattern parameters to the context.
func withParams(ctx context.Context, params map[string]string) context.Context {
	if len(params) == 0 {
		return ctx
	}
	return context.WithValue(ctx, paramsKey{}, params)
}

// ParamsFrom returns the pattern parameters captured for the current
// route invocation.
func ParamsFrom(ctx context.Context) map[string]string {
	params, _ := ctx.Value(paramsKey{}).(map[string]string)
	return params
}

// Param returns one captured parameter.
func Param(ctx context.Context, name string) string {
	return ParamsFrom(ctx)[name]
}
