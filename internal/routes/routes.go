package routes

import (
	"log/slog"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/tbscan/internal/handlers"
	"github.com/Brownie44l1/tbscan/internal/middleware"
)

type Options struct {
	Debug          bool
	AllowedOrigins []string
	TrustedProxies []string
	MaxBodyBytes   int64

	// Limiter guards /predict only; / and /health stay reachable for probes.
	// Every window is charged in one Allow call so a denied request costs
	// nothing. May be nil.
	Limiter middleware.Limiter

	Logger *slog.Logger
}

func SetupRoutes(h *handlers.Handler, opts Options) (*gin.Engine, error) {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}
	r.MaxMultipartMemory = opts.MaxBodyBytes

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(opts.Logger))
	r.Use(secure.New(secure.Config{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		IsDevelopment:         opts.Debug,
	}))
	r.Use(cors.New(corsConfig(opts.AllowedOrigins)))

	r.GET("/", h.Index)
	r.GET("/health", h.Health)

	var predict []gin.HandlerFunc
	if opts.Limiter != nil {
		predict = append(predict, middleware.RateLimit(opts.Limiter, "predict", opts.Logger))
	}
	predict = append(predict, middleware.BodyLimit(opts.MaxBodyBytes), h.Predict)
	r.POST("/predict", predict...)

	return r, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
