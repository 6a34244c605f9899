package diag

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openpva/pva/internal/logging"
)

// Sidecar is a read-only HTTP server reporting on a Registry of
// connections: liveness, the prometheus series, and per-connection
// channel state. It never mutates a connection — every route here only
// reads.
type Sidecar struct {
	ID       string
	Addr     string
	Started  time.Time
	Registry *Registry

	router   *gin.Engine
	basePath string
}

// Appear builds a Sidecar with its own gin.Engine, wired with recovery,
// request logging, and CORS, bound to listen on addr once Serve is called.
func Appear(id, addr string, corsOrigins []string, registry *Registry) *Sidecar {
	if registry == nil {
		registry = NewRegistry()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logging.Named("diag")))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Sidecar{
		ID:       id,
		Addr:     addr,
		Started:  time.Now(),
		Registry: registry,
		router:   r,
	}
}

// Attach builds a Sidecar that registers its routes on an existing router
// (optionally under basePath) instead of owning its own listener — for
// embedding diagnostics inside a larger HTTP server.
func Attach(id string, router *gin.Engine, basePath string, registry *Registry) *Sidecar {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Sidecar{
		ID:       id,
		Started:  time.Now(),
		Registry: registry,
		router:   router,
		basePath: basePath,
	}
}

// HTTPRouter returns the underlying gin.Engine.
func (s *Sidecar) HTTPRouter() *gin.Engine { return s.router }

// RegisterRoutes installs every diagnostic route. Serve calls it itself; a
// Sidecar built with Attach calls it directly, once, so the caller controls
// ordering relative to its own routes.
func (s *Sidecar) RegisterRoutes() {
	routes := s.routes()

	routes.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.Started).String(),
			"diag":   s.ID,
		})
	})

	routes.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"uptime": time.Since(s.Started).String(),
			"diag":   s.ID,
		})
	})

	routes.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": s.Registry.Names()})
	})

	routes.GET("/connections/:name/channels", func(c *gin.Context) {
		name := c.Param("name")
		ctx, ok := s.Registry.Get(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
			return
		}
		snap, err := ctx.Snapshot(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		channels := make([]channelInfo, 0, len(snap))
		for _, s := range snap {
			channels = append(channels, channelInfo{
				Name:    s.Name,
				State:   s.State.String(),
				OpCount: s.OpCount,
			})
		}
		c.JSON(http.StatusOK, gin.H{"addr": ctx.Addr(), "channels": channels})
	})
}

type channelInfo struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	OpCount int    `json:"op_count"`
}

// Serve registers every route and blocks serving HTTP on s.Addr. Only
// valid for a Sidecar built with Appear, which owns its own router.
func (s *Sidecar) Serve() error {
	s.RegisterRoutes()
	return s.router.Run(s.Addr)
}

func (s *Sidecar) routes() gin.IRoutes {
	if s.basePath == "" {
		return s.router
	}
	return s.router.Group(s.basePath)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
