// Package api exposes the item REST endpoints, the WebSocket feed, the manual
// poll trigger and the operational health routes over gin.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/Rzhvms/CurrencyParser/docs" // register generated Swagger spec
)

// Deps are the services the router dispatches to. Poller may be nil, in which
// case POST /tasks/run answers 500. Hub serves the WebSocket upgrade.
type Deps struct {
	Items        itemService
	Poller       pollerService
	Orchestrator orchestratorService
	Hub          http.Handler
	ServiceName  string
}

// Router wraps a configured Gin engine and exposes it as an http.Handler.
type Router struct {
	engine *gin.Engine
}

// NewRouter constructs a Router with the full middleware chain and all routes
// registered. Middleware order:
//  1. Recovery: panic to 500
//  2. Tracing: trace context per request
//  3. RequestLogger: structured request/response logging
//  4. CORS
func NewRouter(d Deps) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	name := d.ServiceName
	if name == "" {
		name = "currency-parser"
	}

	engine.Use(Recovery(slog.Default()))
	engine.Use(Tracing(name))
	engine.Use(RequestLogger(slog.Default()))
	engine.Use(CORS())

	h := &Handler{items: d.Items, poller: d.Poller, orchestrator: d.Orchestrator}

	engine.GET("/items", h.ListItems)
	engine.POST("/items", h.CreateItem)
	engine.GET("/items/:id", h.GetItem)
	engine.PATCH("/items/:id", h.UpdateItem)
	engine.DELETE("/items/:id", h.DeleteItem)

	if d.Hub != nil {
		engine.GET("/ws/items", gin.WrapH(d.Hub))
	}

	engine.POST("/tasks/run", h.RunTasks)

	v1 := engine.Group("/api/v1")
	v1.POST("/bootstrap", h.Bootstrap)

	engine.GET("/health", h.Health)
	engine.GET("/health/deep", h.DeepHealth)
	engine.GET("/ready", h.Ready)

	// API docs: http://localhost:8000/api-docs
	engine.GET("/api-docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/api-docs/index.html")
	})
	engine.GET("/api-docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return &Router{engine: engine}
}

// Handler returns the underlying http.Handler for use with net/http servers.
func (r *Router) Handler() http.Handler {
	return r.engine
}
