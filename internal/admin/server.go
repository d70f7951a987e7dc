// Package admin exposes the optional status surface: health, launch
// phase, and Prometheus metrics while a long discovery or launch poll
// is in flight.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/enginectl/internal/launch"
	"github.com/danmuck/enginectl/internal/observability"
	"github.com/danmuck/enginectl/internal/remote"
)

// StatusSource reports the current launch phase. Satisfied by
// *launch.Orchestrator.
type StatusSource interface {
	Status() launch.Status
}

// CandidateSource lists the instances seen by the most recent discovery
// round.
type CandidateSource interface {
	Candidates() []remote.Identity
}

// Server is the status surface for one enginectl run.
type Server struct {
	router   *gin.Engine
	status   StatusSource
	cands    CandidateSource
	appeared time.Time
	http     *http.Server
}

func NewServer(status StatusSource, cands CandidateSource) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetrics())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"http://localhost:3000"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{router: r, status: status, cands: cands, appeared: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": "enginectl",
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		body := gin.H{"uptime": time.Since(s.appeared).String()}
		if s.status != nil {
			body["launch"] = s.status.Status()
		}
		if s.cands != nil {
			body["candidates"] = s.cands.Candidates()
		}
		c.JSON(http.StatusOK, body)
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown. Errors after a clean shutdown
// are swallowed.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.router}
	log.Info().Str("addr", addr).Msg("status server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
