package controller

import (
	"context"
	"net/url"

	"ctchen222/otaku-list/internal/api/response"
	"ctchen222/otaku-list/internal/catalog"

	"github.com/gin-gonic/gin"
)

// CatalogProxy serves upstream catalog documents.
type CatalogProxy interface {
	Fetch(ctx context.Context, route catalog.Route, requestPath string, params map[string]string, query url.Values) ([]byte, error)
}

// CatalogController exposes the catalog routes.
type CatalogController struct {
	proxy CatalogProxy
}

// NewCatalogController creates a new CatalogController.
func NewCatalogController(proxy CatalogProxy) *CatalogController {
	return &CatalogController{proxy: proxy}
}

// Handler returns the handler for route. Upstream documents are written
// unchanged.
func (cc *CatalogController) Handler(route catalog.Route) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := make(map[string]string, len(c.Params))
		for _, p := range c.Params {
			params[p.Key] = p.Value
		}

		body, err := cc.proxy.Fetch(c.Request.Context(), route, c.Request.URL.Path, params, c.Request.URL.Query())
		if err != nil {
			response.Error(c, err)
			return
		}
		response.RawJSON(c, body)
	}
}
