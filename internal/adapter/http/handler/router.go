package handler

import (
	"subtitle-credit-ledger/internal/adapter/http/middleware"
	redisStore "subtitle-credit-ledger/internal/adapter/storage/redis"
	"subtitle-credit-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	StripeSvc      ports.StripeReconciler
	OpenNodeSvc    ports.OpenNodeReconciler
	VoucherSvc     ports.VoucherService
	UsageSvc       ports.UsageService
	BonusSvc       ports.BonusService
	AdminSvc       ports.AdminService
	ReportingSvc   ports.ReportingService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Payment provider webhooks (signature-authenticated) ---
	webhookHandler := NewWebhookHandler(deps.StripeSvc, deps.OpenNodeSvc, deps.Logger)
	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("/stripe", rl("webhooks"), webhookHandler.HandleStripe)
		webhooks.POST("/opennode", rl("webhooks"), webhookHandler.HandleOpenNode)
	}

	// --- App-facing routes (trusted network; the main app authenticates users) ---
	voucherHandler := NewVoucherHandler(deps.VoucherSvc)
	v1.POST("/vouchers/redeem", rl("voucher_redeem"), voucherHandler.Redeem)

	usageHandler := NewUsageHandler(deps.UsageSvc)
	usage := v1.Group("/usage")
	{
		usage.POST("/authorize", rl("usage"), usageHandler.Authorize)
		usage.POST("/settle", rl("usage"), usageHandler.Settle)
		usage.POST("/release", rl("usage"), usageHandler.Release)
	}

	bonusHandler := NewBonusHandler(deps.BonusSvc)
	v1.POST("/registrations/bonus", rl("registration_bonus"), bonusHandler.Award)

	// --- JWT-authenticated admin routes ---
	adminAuth := middleware.AdminAuth(deps.TokenSvc, deps.Logger)
	adminHandler := NewAdminHandler(deps.AdminSvc, deps.ReportingSvc)

	accounts := v1.Group("/accounts", adminAuth)
	{
		accounts.GET("/:id/summary", rl("admin"), adminHandler.GetAccountSummary)
		accounts.GET("/:id/transactions", rl("admin"), adminHandler.ListTransactions)
		accounts.GET("/:id/discrepancy", rl("admin"), adminHandler.GetDiscrepancy)
	}

	admin := v1.Group("/admin", adminAuth)
	{
		admin.POST("/adjustments", rl("admin"), adminHandler.Adjust)
		admin.POST("/vouchers", rl("admin"), voucherHandler.Create)
		admin.GET("/registrations", rl("admin"), adminHandler.ListSuspiciousRegistrations)
	}

	return r
}
