package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lumenauth/lumen/api"
	"github.com/lumenauth/lumen/audit"
	"github.com/lumenauth/lumen/config"
	"github.com/lumenauth/lumen/dkim"
	"github.com/lumenauth/lumen/flow"
	"github.com/lumenauth/lumen/health"
	"github.com/lumenauth/lumen/logger"
	"github.com/lumenauth/lumen/mail"
	"github.com/lumenauth/lumen/session"
	"github.com/lumenauth/lumen/store"
	"github.com/lumenauth/lumen/token"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.InitLogger(cfg.LogLevel)
	defer logger.Log.Sync()

	logger.Log.Info("Starting Lumen Authentication Service",
		zap.Int("port", cfg.Port),
		zap.String("db_type", cfg.DBType),
	)

	db, err := store.Open(cfg.DBType, cfg.DSN, cfg.SkipAutoMigrate, &token.Token{}, &audit.Event{})
	if err != nil {
		logger.Log.Fatal("failed to open database", zap.Error(err))
	}

	signer, err := dkim.NewSigner([]byte(cfg.DKIMKeyPrivate), cfg.DKIMDomain, cfg.DKIMSelector)
	if err != nil {
		logger.Log.Fatal("failed to load DKIM key", zap.Error(err))
	}

	codec, err := session.NewCodec(cfg.SessionSecret, cfg.SessionLifetime)
	if err != nil {
		logger.Log.Fatal("failed to initialize session codec", zap.Error(err))
	}

	var mailer mail.Mailer
	if cfg.SMTPAddr != "" {
		mailer = &mail.SMTPMailer{Addr: cfg.SMTPAddr}
	} else {
		logger.Log.Warn("SMTP_ADDR not set, mail delivery is simulated")
		mailer = &mail.LogMailer{Log: logger.Log}
	}

	var limiter flow.RateLimiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = flow.NewRedisRateLimiter(client, "")
	} else {
		limiter = flow.NewMemoryRateLimiter()
	}

	ledger := token.NewLedger(db, cfg.TokenTTL)
	audits := audit.NewStore(db)
	issuer := flow.NewIssuer(db, ledger, signer, mailer, limiter, audits, logger.Log, cfg.BaseURL, cfg.MailFrom, cfg.ResendWindow)
	verifier := flow.NewVerifier(ledger, codec, audits, logger.Log)

	secureCookies := strings.HasPrefix(cfg.BaseURL, "https://")
	h := api.NewHandler(db, issuer, verifier, codec, logger.Log, cfg.SessionLifetime, secureCookies)

	// Setup Echo
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Log.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	h.RegisterRoutes(e)

	healthMgr := health.NewManager("1.0.0")
	sqlDB, err := db.DB()
	if err == nil {
		healthMgr.Register(health.NewDatabaseChecker(cfg.DBType, sqlDB.PingContext))
	}
	e.GET("/healthz", echo.WrapHandler(healthMgr.Handler()))

	go sweepExpiredTokens(ledger)

	logger.Log.Info("Server is starting", zap.Int("port", cfg.Port))
	if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Log.Fatal("server failed to start", zap.Error(err))
	}
}

// sweepExpiredTokens periodically purges expired token rows. Best effort:
// redemption evaluates expiry itself, the sweep only keeps the table small.
func sweepExpiredTokens(ledger *token.Ledger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		purged, err := ledger.PurgeExpired(ctx)
		cancel()
		if err != nil {
			logger.Log.Warn("token sweep failed", zap.Error(err))
			continue
		}
		if purged > 0 {
			logger.Log.Info("token sweep", zap.Int64("purged", purged))
		}
	}
}
