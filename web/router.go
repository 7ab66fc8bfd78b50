package web

import (
	"fmt"
	"log"

	"github.com/corvid-social/corvid/activitypub"
	"github.com/corvid-social/corvid/db"
	"github.com/corvid-social/corvid/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Server wires the HTTP surface to the federation core.
type Server struct {
	db         *db.DB
	conf       *util.AppConfig
	kernel     *activitypub.Kernel
	visibility *activitypub.Visibility
}

func NewServer(store *db.DB, conf *util.AppConfig, kernel *activitypub.Kernel) *Server {
	return &Server{
		db:         store,
		conf:       conf,
		kernel:     kernel,
		visibility: activitypub.NewVisibility(store, conf),
	}
}

// Router builds the gin engine with all federation endpoints.
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter rate limit for inbox traffic: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)

	// Max 1MB request body size for activities
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	g.GET("/.well-known/webfinger", s.HandleWebfinger)
	g.GET("/users/:username", s.HandleActor)
	g.GET("/users/:username/outbox", s.HandleOutbox)
	g.GET("/users/:username/followers", s.HandleFollowers)
	g.GET("/users/:username/following", s.HandleFollowing)
	g.GET("/notes/:id", s.HandleNote)
	g.GET("/feed", s.HandleRSS)

	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.HandleInbox)
	g.POST("/users/:username/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.HandleInbox)

	return g
}

// Run serves HTTP until the listener fails.
func (s *Server) Run() error {
	log.Printf("WebServer: listening on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	return s.Router().Run(fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort))
}
