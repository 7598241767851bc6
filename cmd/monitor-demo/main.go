// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command monitor-demo runs a small instrumented HTTP server showing the
// monitoring pipeline end to end:
//   - Request duration and count metrics on every route
//   - Active-user tracking from a demo identity header
//   - Session, database, and custom-event tracking calls
//   - Periodic export to a Prometheus remote-write backend (or the log)
//
// Usage:
//
//	go run ./cmd/monitor-demo
//	go run ./cmd/monitor-demo -port 9091 -config monitor.yaml
//
// With a backend credential:
//
//	MONITOR_CONNECTION_STRING='endpoint=localhost:4317;metrics_url=http://localhost:9009/api/v1/push' \
//	  go run ./cmd/monitor-demo
//
// Example requests:
//
//	# Instrumented endpoint
//	curl http://localhost:9091/api/items/42
//
//	# Session login event (feeds the active-user gauge)
//	curl -X POST http://localhost:9091/api/login -H 'X-User: alice'
//
//	# Simulated failure (observed error + 502)
//	curl http://localhost:9091/api/flaky
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/aleutian-monitor/logging"
	"github.com/AleutianAI/aleutian-monitor/metrics"
	"github.com/AleutianAI/aleutian-monitor/pipeline"
)

func main() {
	port := flag.Int("port", 9091, "Port to listen on")
	configPath := flag.String("config", "", "Optional YAML config file")
	logDir := flag.String("log-dir", "", "Optional directory for JSON log files")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	logger, closeLogs := logging.New(logging.Config{
		Level:   level,
		Service: "monitor-demo",
		LogDir:  *logDir,
	})
	defer closeLogs()
	slog.SetDefault(logger)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := pipeline.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = pipeline.LoadConfig(*configPath); err != nil {
			logger.Error("load config failed", "error", err)
			os.Exit(1)
		}
	}
	cfg.ServiceName = "monitor-demo"

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	identity := pipeline.IdentityProviderFunc(func(r *http.Request) (string, bool) {
		user := r.Header.Get("X-User")
		return user, user != ""
	})

	p, err := pipeline.New(ctx, cfg,
		pipeline.WithLogger(logger),
		pipeline.WithIdentityProvider(identity),
	)
	if err != nil {
		logger.Error("init monitoring failed", "error", err)
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if *debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware(cfg.ServiceName), p.GinMiddleware())

	registerRoutes(router, p)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}

	go func() {
		logger.Info("monitor-demo listening", "port", *port, "monitoring", p.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Error("monitoring shutdown failed", "error", err)
	}
}

// registerRoutes wires the demo endpoints.
func registerRoutes(router *gin.Engine, p *pipeline.Pipeline) {
	api := router.Group("/api")

	api.GET("/items/:id", func(c *gin.Context) {
		// Simulated lookup with query instrumentation.
		start := time.Now()
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
		p.TrackDatabaseQuery(c.Request.Context(), "items.select_by_id", time.Since(start), true)

		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})

	api.POST("/login", func(c *gin.Context) {
		user := c.GetHeader("X-User")
		if user == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-User header"})
			return
		}
		p.TrackUserSession(c.Request.Context(), user, "login", metrics.Attributes{
			"client.ip": c.ClientIP(),
		})
		c.JSON(http.StatusOK, gin.H{"user": user})
	})

	api.POST("/logout", func(c *gin.Context) {
		user := c.GetHeader("X-User")
		p.TrackUserSession(c.Request.Context(), user, "logout", nil)
		c.Status(http.StatusNoContent)
	})

	api.GET("/flaky", func(c *gin.Context) {
		if rand.Intn(2) == 0 {
			err := p.ObserveError(c.Request.Context(), errors.New("upstream dependency timed out"))
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		p.TrackCustomEvent(c.Request.Context(), "flaky_survived", nil)
		c.JSON(http.StatusOK, gin.H{"status": "lucky"})
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"monitoring":   p.Enabled(),
			"active_users": p.ActiveUsers(),
		})
	})
}
