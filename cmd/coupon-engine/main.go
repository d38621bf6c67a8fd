// cmd/coupon-engine/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/flashcoupon/coupon-engine/internal/admission"
	"github.com/flashcoupon/coupon-engine/internal/config"
	"github.com/flashcoupon/coupon-engine/internal/database"
	"github.com/flashcoupon/coupon-engine/internal/handler"
	"github.com/flashcoupon/coupon-engine/internal/logger"
	"github.com/flashcoupon/coupon-engine/internal/repository"
	"github.com/flashcoupon/coupon-engine/internal/service"
)

func main() {
	cfg := config.Load()

	log, err := logger.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	log.Info("connected to PostgreSQL")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	couponRepo := repository.NewCouponRepository(pool)
	issuedRepo := repository.NewIssuedCouponRepository(pool)
	cachedCoupons := repository.NewCachedCoupons(couponRepo, cfg.MetadataTTL)

	gate := admission.New()
	reconciler := service.NewReconciler(gate, couponRepo, issuedRepo, log)
	adminSvc := service.NewAdminService(couponRepo, cachedCoupons, gate, log)
	issuerSvc := service.NewIssuanceService(gate, cachedCoupons, issuedRepo, reconciler, service.IssuanceOptions{
		WriterWorkers:     cfg.WriterWorkers,
		WriterBuffer:      cfg.WriterBuffer,
		PersistMaxElapsed: cfg.PersistMaxElapsed,
		ValidityGrace:     cfg.ValidityGrace,
	}, log)
	defer issuerSvc.Close()
	redeemerSvc := service.NewRedemptionService(issuedRepo, log)

	couponHandler := handler.NewCouponHandler(adminSvc, issuerSvc, redeemerSvc, reconciler)

	// Warm the admission gate from the ledger and expire overdue records, so
	// a restart never serves decisions from empty state.
	if _, err := reconciler.SweepExpired(ctx); err != nil {
		log.Errorf("startup expiry sweep: %v", err)
	}
	if summary, err := reconciler.Resync(ctx); err != nil {
		log.Errorf("startup resync: %v", err)
	} else {
		log.Infof("startup resync: %s", summary.Message())
	}
	go reconciler.Run(ctx, cfg.SweepInterval)

	// ── 3. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.AccessLog(log))  // structured access log
	r.Use(handler.CORS)            // permissive CORS for the demo front-end

	r.Get("/health", handler.HealthCheck)
	r.Mount("/api", couponHandler.Routes())

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	<-ctx.Done()

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Info("server stopped")
}
