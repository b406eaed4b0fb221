package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	scalargo "github.com/bdpiprava/scalar-go"
	"github.com/joho/godotenv"

	"github.com/904critic-tech/pawnbroker-pro/pkg/cache"
	"github.com/904critic-tech/pawnbroker-pro/pkg/config"
	"github.com/904critic-tech/pawnbroker-pro/pkg/history"
	"github.com/904critic-tech/pawnbroker-pro/pkg/logger"
	"github.com/904critic-tech/pawnbroker-pro/pkg/market"
	"github.com/904critic-tech/pawnbroker-pro/pkg/models"
	"github.com/904critic-tech/pawnbroker-pro/pkg/pricing"
	"github.com/904critic-tech/pawnbroker-pro/pkg/scrapers/camel"
	"github.com/904critic-tech/pawnbroker-pro/pkg/scrapers/craigslist"
	"github.com/904critic-tech/pawnbroker-pro/pkg/scrapers/ebay"
	"github.com/904critic-tech/pawnbroker-pro/pkg/scrapers/mercari"
	"github.com/904critic-tech/pawnbroker-pro/pkg/scrapers/offerup"
	"github.com/904critic-tech/pawnbroker-pro/pkg/server"
	"github.com/904critic-tech/pawnbroker-pro/pkg/sources"
	"github.com/904critic-tech/pawnbroker-pro/pkg/vendors/amazonpa"
	"github.com/904critic-tech/pawnbroker-pro/pkg/vendors/ebayfinding"
	"github.com/904critic-tech/pawnbroker-pro/pkg/vendors/remote"
)

func main() {
	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	cfg := config.MustLoad()

	log := logger.Setup(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting pawnbroker-pro", slog.String("env", cfg.Env), slog.String("address", cfg.HTTPServer.Address))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := cache.Open(ctx, cfg.Cache.Backend, cfg.Cache.Path, cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
	if err != nil {
		log.Error("failed to open cache", logger.Err(err))
		os.Exit(1)
	}
	defer store.Close()
	log.Info("cache ready", slog.String("backend", cfg.Cache.Backend))

	var hist server.HistoryStore
	if cfg.Postgres.DSN != "" {
		pgStore, err := history.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Error("failed to connect to postgres", logger.Err(err))
			os.Exit(1)
		}
		defer pgStore.Close()
		hist = pgStore
		log.Info("estimate history enabled")
	}

	scraper := ebay.NewScraper(log, cfg.Scraper.Timeout, cfg.Scraper.RequestDelay)
	camelScraper := camel.NewScraper(log, 60*time.Second)
	mercariScraper := mercari.NewScraper(log, cfg.Scraper.Timeout)
	offerupScraper := offerup.NewScraper(log, cfg.Scraper.Timeout)
	craigslistScraper := craigslist.NewScraper(log, cfg.Scraper.CraigslistSite, cfg.Scraper.Timeout)
	finding := ebayfinding.New(log, cfg.EBay.AppID, cfg.EBay.GlobalID)
	amazon := amazonpa.New(log,
		cfg.Amazon.AccessKeyID, cfg.Amazon.SecretAccessKey,
		cfg.Amazon.PartnerTag, cfg.Amazon.Region, cfg.Amazon.Host)
	pricingFn := remote.New(log, cfg.Remote.URL, cfg.Remote.Timeout)

	params := pricing.DefaultParams()
	chain := sources.NewChain(log,
		sources.New("remote", pricingFn.Available, pricingFn.Estimate),
		sources.FromRecords(models.SourceEbayAPI, finding.Available, finding.SearchSoldItems, params, 50),
		sources.FromRecords(models.SourceEbayScrape, nil, func(ctx context.Context, query string, limit int) ([]models.SaleRecord, error) {
			results, err := scraper.Search(ctx, query, limit)
			if err != nil {
				return nil, err
			}
			return results.Items, nil
		}, params, cfg.Scraper.ResultLimit),
	)

	marketplaces := []sources.EstimateSource{
		sources.FromRecords(models.SourceMercari, nil, mercariScraper.Search, params, 20),
		sources.FromRecords(models.SourceOfferUp, nil, offerupScraper.Search, params, 20),
		sources.FromRecords(models.SourceCraigslist, nil, craigslistScraper.Search, params, 20),
	}
	aggregator := market.New(log, chain, marketplaces, camelScraper)

	srv := server.New(log, cfg, store, chain, scraper, amazon, camelScraper, aggregator, hist)

	mux := http.NewServeMux()
	mux.Handle("/api/", srv.Router())
	mux.HandleFunc("/", docsHandler)

	if ip := GetOutboundIP(); ip != nil {
		fmt.Printf("Local Network URL: http://%s%s\n", ip.String(), cfg.HTTPServer.Address)
	}
	fmt.Printf("Access URL: http://localhost%s\n", cfg.HTTPServer.Address)
	fmt.Printf("API Docs: http://localhost%s/\n", cfg.HTTPServer.Address)

	httpServer := &http.Server{
		Addr:              cfg.HTTPServer.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:       cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", logger.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", logger.Err(err))
	}

	log.Info("stopped")
}

// docsHandler serves the Scalar API reference on the root path.
func docsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	html, err := scalargo.NewV2(
		scalargo.WithSpecDir("./"),
		scalargo.WithMetaDataOpts(
			scalargo.WithTitle("PawnBroker Pro API"),
		),
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func GetOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		addrs, _ := net.InterfaceAddrs()
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					return ipnet.IP
				}
			}
		}
		return nil
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP
}
