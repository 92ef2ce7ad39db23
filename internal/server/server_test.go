package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ctchen222/otaku-list/internal/api/controller"
	"ctchen222/otaku-list/internal/api/models"
	"ctchen222/otaku-list/internal/api/service/mocks"
	"ctchen222/otaku-list/internal/apperror"
	"ctchen222/otaku-list/internal/catalog"
	"ctchen222/otaku-list/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticProxy struct{}

func (staticProxy) Fetch(context.Context, catalog.Route, string, map[string]string, url.Values) ([]byte, error) {
	return []byte(`{"data":{}}`), nil
}

func newTestServer(t *testing.T, rl config.RateLimitConfig) (*Server, *mocks.MockAuthService, *mocks.MockListService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	auth := mocks.NewMockAuthService(ctrl)
	lists := mocks.NewMockListService(ctrl)

	srv := NewServer(Deps{
		AuthService: auth,
		Users:       controller.NewUserController(auth, 1<<20),
		Lists:       controller.NewListController(lists),
		Catalog:     controller.NewCatalogController(staticProxy{}),
		RateLimit:   rl,
	})
	return srv, auth, lists
}

func get(srv *Server, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func TestServer_Routes(t *testing.T) {
	srv, auth, lists := newTestServer(t, config.RateLimitConfig{Disabled: true})

	w := get(srv, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = get(srv, "/nowhere")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "route not found")

	for _, r := range catalog.Routes {
		path := strings.ReplaceAll(r.Path, ":id", "1")
		w = get(srv, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	auth.EXPECT().Authorize(gomock.Any(), "").
		Return(nil, apperror.Unauthorized(apperror.ReasonMissing, "missing bearer token"))
	w = get(srv, "/me")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"missing"`)

	user := &models.User{ID: 3, Username: "faye"}
	auth.EXPECT().Authorize(gomock.Any(), "tok").Return(user, nil)
	lists.EXPECT().ListForUser(gomock.Any(), int64(3)).Return(nil, nil)
	w = get(srv, "/list/3", "Authorization", "Bearer tok")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"list":[]`)
}

func TestServer_StrictLimitOnAuthEndpoints(t *testing.T) {
	srv, auth, _ := newTestServer(t, config.RateLimitConfig{
		Window:          time.Minute,
		StrictRequests:  1,
		LenientRequests: 100,
	})
	auth.EXPECT().Login(gomock.Any(), gomock.Any()).Return(&models.AuthResponse{ID: 1, Token: "t"}, nil)

	login := func() int {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"a@b.test","password":"secret1"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.Engine().ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, login())
	assert.Equal(t, http.StatusTooManyRequests, login())

	// The lenient limiter still admits other routes.
	assert.Equal(t, http.StatusOK, get(srv, "/healthz").Code)
}
