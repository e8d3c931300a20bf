// Package server wires the HTTP handlers, the live ticker and the
// middleware stack into a single listener.
package server

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openclapp/openclapp/internal/api"
	"github.com/openclapp/openclapp/internal/config"
	"github.com/openclapp/openclapp/internal/metrics"
	"github.com/openclapp/openclapp/internal/ticker"
	"github.com/openclapp/openclapp/pkg/schema"
	"github.com/sirupsen/logrus"
)

// AdminSecretHeader carries the admin secret on wipe requests.
const AdminSecretHeader = "X-Admin-Secret"

type Router struct {
	engine *gin.Engine
	log    logrus.FieldLogger
	cert   *tls.Certificate

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// NewRouter builds the gin engine. hub may be nil, in which case the
// websocket stream is not mounted.
func NewRouter(h *api.Handler, hub *ticker.Hub, cfg *config.Config, log logrus.FieldLogger) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log), metrics.Middleware(), cors(cfg.Server.AllowOrigin))

	var write []gin.HandlerFunc
	if cfg.RateLimit.RequestsPerSecond > 0 {
		write = append(write, NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log).Middleware())
	}
	h.Routes(r, write...)

	admin := r.Group("/admin", adminAuth(cfg.Admin.Secret))
	h.AdminRoutes(admin)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	if hub != nil {
		r.GET("/events/stream", gin.WrapF(hub.ServeWS))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, schema.ErrorResponse{OK: false, Error: "route not found"})
	})

	return &Router{engine: r, log: log}
}

// SetCertificate enables TLS on the listener.
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

// Listen serves until Stop is called. It returns nil after a clean stop.
func (r *Router) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if r.cert != nil {
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{*r.cert}, MinVersion: tls.VersionTLS12})
	}

	srv := &http.Server{
		Handler:           r.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	r.mu.Lock()
	r.listener = ln
	r.srv = srv
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"addr": ln.Addr().String(), "tls": r.cert != nil}).Info("http server listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr reports the bound address, or nil before Listen.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
// Hijacked websocket connections are not waited for.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	srv := r.srv
	r.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func cors(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, "+AdminSecretHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// adminAuth compares the header in constant time. An empty secret rejects
// every request.
func adminAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, schema.ErrorResponse{OK: false, Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Info("request")
		default:
			entry.Debug("request")
		}
	}
}
