package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arbflow/arbitrator"
	"arbflow/auth"
	"arbflow/casefile"
	"arbflow/config"
	"arbflow/db"
	"arbflow/ledger"
	"arbflow/metrics"
	"arbflow/offer"
	"arbflow/oracle"
)

func main() {
	configPath := flag.String("config", os.Getenv("ARBFLOW_CONFIG"), "path to config.yaml")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	metrics.Init()

	rate, err := oracle.NewFixedRate(cfg.OracleRateNum, cfg.OracleRateDen)
	if err != nil {
		log.Fatalf("oracle rate: %v", err)
	}

	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)
	cfgStore := config.NewStore(pool)
	ledgerRepo := ledger.NewRepository(pool)
	offerRepo := offer.NewRepository(pool)
	arbRepo := arbitrator.NewRepository(pool)
	installer := arbitrator.LogInstaller{}

	caseSvc := casefile.NewService(pool, nil, cfgStore, ledgerRepo, offerRepo, arbRepo, authRepo, rate, installer)
	offerSvc := offer.NewService(pool, offerRepo)

	if conf, err := cfgStore.Get(ctx); err != nil {
		if config.IsNotInitialized(err) {
			log.Printf("engine config not initialized; call config.Service.Init before serving cases")
		} else {
			log.Fatalf("read engine config: %v", err)
		}
	} else {
		log.Printf("engine %s ready, admin %s", conf.Version, conf.AdminID)
	}

	srv := &server{auth: authSvc, cases: caseSvc, offers: offerSvc}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/auth/register", srv.handleRegister)
	mux.HandleFunc("/api/auth/login", srv.handleLogin)
	mux.HandleFunc("/api/cases", srv.handleCases)
	mux.HandleFunc("/api/cases/", srv.handleCase)
	mux.HandleFunc("/api/offers", srv.handleOffers)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("listening on %s", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
