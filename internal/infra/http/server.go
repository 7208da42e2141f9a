// Package http is the gin surface over the ledger: record, receipt, and
// proof endpoints, plus the admin operations behind the X-Admin-Key header.
package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"tally/internal/config"
	"tally/internal/domain"
	"tally/internal/infra/ratelimit"
	"tally/internal/usecase"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine

	ledger      usecase.Ledger
	record      *usecase.RecordEntry
	issue       *usecase.IssueReceipt
	verify      *usecase.VerifyReceipt
	consistency *usecase.ConsistencyQuery
	rotation    *usecase.KeyRotationService
	keyRing     usecase.KeyRingSource
	witness     domain.WitnessPublisher

	adminAPIKey string

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	Ledger      usecase.Ledger
	Policy      usecase.PolicyEngine
	KeyRing     usecase.KeyRingSource
	Rotation    *usecase.KeyRotationService
	Witness     domain.WitnessPublisher
	RateLimiter domain.RateLimiter
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:         cfg,
		r:           r,
		ledger:      deps.Ledger,
		rotation:    deps.Rotation,
		keyRing:     deps.KeyRing,
		witness:     deps.Witness,
		adminAPIKey: cfg.AdminAPIKey,
	}
	s.record = &usecase.RecordEntry{Ledger: deps.Ledger, Policy: deps.Policy}
	s.issue = &usecase.IssueReceipt{Ledger: deps.Ledger}
	s.verify = &usecase.VerifyReceipt{Keys: deps.KeyRing}
	s.consistency = &usecase.ConsistencyQuery{Ledger: deps.Ledger}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/health", s.handleHealth)

	v1 := s.r.Group("/v1")
	{
		v1.POST("/entries", s.rateLimit, s.handleRecordEntry)
		v1.GET("/entries/:key", s.handleGetEntry)
		v1.GET("/receipts/:sequence", s.handleGetReceipt)
		v1.POST("/receipts/verify", s.rateLimit, s.handleVerifyReceipt)
		v1.GET("/attestations/latest", s.handleLatestAttestation)
		v1.GET("/consistency", s.handleConsistency)
		v1.GET("/ledger/head", s.handleHead)

		admin := v1.Group("/admin")
		{
			admin.POST("/attest", s.handleAdminAttest)
			admin.POST("/view", s.handleAdminAdvanceView)
			admin.POST("/retract", s.handleAdminRetract)
			admin.POST("/prune", s.handleAdminPrune)
			admin.POST("/keys/rotate", s.handleAdminRotateKey)
			admin.GET("/keys", s.handleAdminListKeys)
		}
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}
