// Command optionscalp wires the intraday options-scalping engine together:
// feed, Greeks engine, bias tracker, risk manager, adaptive controller,
// per-underlying orchestrator loops, the journal, and the §6.5 control API.
package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"optionscalp/adaptive"
	"optionscalp/api"
	"optionscalp/bias"
	"optionscalp/clock"
	"optionscalp/config"
	"optionscalp/domain"
	"optionscalp/feed"
	"optionscalp/greeks"
	"optionscalp/journal"
	"optionscalp/logger"
	"optionscalp/metrics"
	"optionscalp/orchestrator"
	"optionscalp/risk"
	"optionscalp/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil {
		logger.Infof("no .env file found, proceeding with process environment")
	}

	cfg := config.Default()
	clk := clock.NewSystemClock()

	dbPath := envOr("OPTIONSCALP_DB_PATH", "optionscalp.db")
	sink, err := store.NewSQLiteSink(dbPath)
	if err != nil {
		logger.Errorf("failed to open persistence sink at %s: %v", dbPath, err)
		return int(api.ExitConfigError)
	}
	defer sink.Close()

	auditPath := envOr("OPTIONSCALP_AUDIT_LOG", "audit.log")
	auditFile, err := os.OpenFile(auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Errorf("failed to open audit log at %s: %v", auditPath, err)
		return int(api.ExitConfigError)
	}
	defer auditFile.Close()

	startEquity, err := decimal.NewFromString(envOr("OPTIONSCALP_START_EQUITY", "100000"))
	if err != nil {
		logger.Errorf("invalid OPTIONSCALP_START_EQUITY: %v", err)
		return int(api.ExitConfigError)
	}

	j := journal.New(sink, auditFile)
	rm := risk.NewManager(cfg.Risk, clk, startEquity, nil)
	defer rm.Close()
	ac := adaptive.NewController(cfg.Adaptive, clk)
	defer ac.Close()

	metrics.Init()
	metrics.SetKillSwitch(false)

	underlyings := strings.Split(envOr("OPTIONSCALP_UNDERLYINGS", "NIFTY,BANKNIFTY"), ",")
	pb := newPaperBroker(startEquity)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	newLoop := func(underlying string, expiry time.Time) (*orchestrator.Loop, error) {
		wsURL := envOr("OPTIONSCALP_FEED_URL_"+underlying, "")
		if wsURL == "" {
			return nil, fmt.Errorf("no feed URL configured for %s (set OPTIONSCALP_FEED_URL_%s)", underlying, underlying)
		}
		f := feed.NewWSFeed(wsURL, decodeTick)
		f.Start()

		loop := orchestrator.NewLoop(orchestrator.Deps{
			Underlying: underlying,
			Cfg:        cfg,
			Clock:      clk,
			Feed:       f,
			Broker:     pb,
			Greeks:     greeks.NewEngine(cfg.Greeks),
			Bias:       bias.NewTracker(cfg.Bias),
			Risk:       rm,
			Adaptive:   ac,
			Journal:    j,
			Sink:       sink,
		})
		go func() {
			if err := loop.Run(ctx); err != nil {
				logger.Errorf("[%s] loop exited: %v", underlying, err)
			}
		}()
		return loop, nil
	}

	apiServer := api.NewServer(rm, ac, clk, newLoop)
	for _, u := range underlyings {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, err := newLoop(u, nextWeeklyExpiry(clk.Now())); err != nil {
			logger.Warnf("skipping %s at startup: %v", u, err)
		}
	}

	gin.SetMode(envOr("GIN_MODE", gin.ReleaseMode))
	engine := gin.New()
	engine.Use(gin.Recovery())
	apiServer.Routes(engine)
	srv := &http.Server{Addr: envOr("OPTIONSCALP_LISTEN_ADDR", ":8080"), Handler: engine}

	go func() {
		logger.Infof("control API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("control API server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutdown signal received, flattening positions and exiting")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	if rm.GetStats().KillSwitchEngaged {
		return int(api.ExitKilledBySafetyLayer)
	}
	return int(api.ExitClean)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// nextWeeklyExpiry is a placeholder expiry resolver: actual NFO weekly-expiry
// calendars are broker/exchange metadata, out of scope per spec.md §1.
func nextWeeklyExpiry(now time.Time) time.Time {
	return now.Add(7 * 24 * time.Hour)
}

// decodeTick is a stand-in Decoder: wire formats are broker-specific and out
// of scope (spec.md Non-goals). A real deployment supplies its broker's
// decoder here.
func decodeTick(msg []byte) (*domain.Tick, *domain.ChainUpdate, error) {
	_ = bytes.TrimSpace(msg)
	return nil, nil, fmt.Errorf("no feed decoder configured")
}
