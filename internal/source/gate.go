package source

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"example.com/biometrics/internal/domain"
)

// StaticGate grants a fixed set of categories.
type StaticGate struct {
	granted domain.CategorySet
}

// NewStaticGate grants exactly the given categories.
func NewStaticGate(categories ...domain.Category) StaticGate {
	return StaticGate{granted: domain.NewCategorySet(categories...)}
}

// GrantedCategories implements domain.PermissionGate.
func (g StaticGate) GrantedCategories(context.Context) (domain.CategorySet, error) {
	out := make(domain.CategorySet, len(g.granted))
	for c := range g.granted {
		out[c] = struct{}{}
	}
	return out, nil
}

// HTTPGate reads the granted categories from GET /v1/permissions.
type HTTPGate struct {
	c *client
}

// NewHTTPGate constructs a permission gate for the data source described by cfg.
func NewHTTPGate(cfg Config, opts ...Option) *HTTPGate {
	return &HTTPGate{c: newClient(cfg, opts...)}
}

// GrantedCategories implements domain.PermissionGate. Unknown category names
// reported by the source are ignored.
func (g *HTTPGate) GrantedCategories(ctx context.Context) (domain.CategorySet, error) {
	body, err := g.c.get(ctx, "/v1/permissions", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: %w", domain.ErrPermissionDenied, errInvalidPage)
	}

	granted := domain.CategorySet{}
	gjson.GetBytes(body, "granted").ForEach(func(_, name gjson.Result) bool {
		category, err := domain.ParseCategory(name.String())
		if err != nil {
			g.c.logger.WithField("category", name.String()).Warn("ignoring unknown granted category")
			return true
		}
		granted[category] = struct{}{}
		return true
	})
	return granted, nil
}
