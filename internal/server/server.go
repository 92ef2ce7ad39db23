package server

import (
	"log/slog"
	"net/http"

	"ctchen222/otaku-list/internal/api/controller"
	"ctchen222/otaku-list/internal/api/middleware"
	"ctchen222/otaku-list/internal/api/response"
	"ctchen222/otaku-list/internal/api/service"
	"ctchen222/otaku-list/internal/catalog"
	"ctchen222/otaku-list/internal/config"

	"github.com/gin-gonic/gin"
)

// Deps are the handlers and services the router is built from.
type Deps struct {
	Logger      *slog.Logger
	AuthService service.AuthService
	Users       *controller.UserController
	Lists       *controller.ListController
	Catalog     *controller.CatalogController
	RateLimit   config.RateLimitConfig
}

type Server struct {
	engine *gin.Engine
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(deps.Logger),
		middleware.Tracing(),
		middleware.AccessLog(),
	)

	strict := passThrough
	if !deps.RateLimit.Disabled {
		r.Use(middleware.NewRateLimiter(deps.RateLimit.LenientRequests, deps.RateLimit.Window).Middleware())
		strict = middleware.NewRateLimiter(deps.RateLimit.StrictRequests, deps.RateLimit.Window).Middleware()
	}

	r.GET("/healthz", func(c *gin.Context) {
		response.SuccessResponse(c, gin.H{"status": "ok"})
	})

	r.POST("/signup", strict, deps.Users.Signup)
	r.POST("/login", strict, deps.Users.Login)

	authed := r.Group("/", middleware.RequireAuth(deps.AuthService))
	{
		authed.GET("/me", deps.Users.Me)
		authed.PUT("/me", deps.Users.UpdateProfile)
		authed.POST("/token/reissue", strict, deps.Users.ReissueToken)

		authed.PUT("/list", deps.Lists.Upsert)
		authed.GET("/list/:userId", middleware.RequireOwner("userId"), deps.Lists.List)
	}

	for _, route := range catalog.Routes {
		r.GET(route.Path, deps.Catalog.Handler(route))
	}

	r.NoRoute(func(c *gin.Context) {
		response.ErrorResponse(c, http.StatusNotFound, "route not found")
	})

	return &Server{engine: r}
}

// Engine returns the http.Handler serving every route.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func passThrough(c *gin.Context) { c.Next() }
