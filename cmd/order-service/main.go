package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nazeru/storefront-tx-go/internal/catalog"
	"github.com/nazeru/storefront-tx-go/internal/httpapi"
	"github.com/nazeru/storefront-tx-go/internal/insight"
	"github.com/nazeru/storefront-tx-go/internal/order/domain"
	"github.com/nazeru/storefront-tx-go/internal/order/projection"
	"github.com/nazeru/storefront-tx-go/internal/order/store"
	"github.com/nazeru/storefront-tx-go/internal/order/store/memstore"
	"github.com/nazeru/storefront-tx-go/internal/order/store/pgstore"
	"github.com/nazeru/storefront-tx-go/internal/order/store/profilecache"
	"github.com/nazeru/storefront-tx-go/internal/order/tx"
	"github.com/nazeru/storefront-tx-go/pkg/kafka"
	"github.com/nazeru/storefront-tx-go/pkg/logging"
	"github.com/nazeru/storefront-tx-go/pkg/metrics"
	"github.com/nazeru/storefront-tx-go/pkg/outbox"
	"github.com/nazeru/storefront-tx-go/pkg/tx/retry"
)

const service = "order-service"

type cfg struct {
	Port            string
	DatabaseURL     string
	Store           string // postgres | memory
	RequestTimeout  time.Duration
	CheckoutTimeout time.Duration
	MaxAttempts     int
	Backoff         time.Duration
	SeedProducts    bool
	AdminUserID     string
	KafkaBrokers    string
	OutboxInterval  time.Duration
	RedisURL        string
	ProfileCacheTTL time.Duration
	InsightURL      string
	InsightTimeout  time.Duration
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	kind := strings.ToLower(getenv("STORE", ""))
	if kind == "" {
		kind = "memory"
		if db != "" {
			kind = "postgres"
		}
	}
	switch kind {
	case "postgres":
		if db == "" {
			return cfg{}, errors.New("DATABASE_URL is required for STORE=postgres")
		}
	case "memory":
	default:
		return cfg{}, errors.New("STORE must be postgres or memory")
	}

	attempts, err := strconv.Atoi(getenv("CHECKOUT_MAX_ATTEMPTS", "5"))
	if err != nil || attempts <= 0 {
		return cfg{}, errors.New("CHECKOUT_MAX_ATTEMPTS must be a positive integer")
	}

	return cfg{
		Port:            getenv("PORT", "8080"),
		DatabaseURL:     db,
		Store:           kind,
		RequestTimeout:  msEnv("REQUEST_TIMEOUT_MS", 5000),
		CheckoutTimeout: msEnv("CHECKOUT_TIMEOUT_MS", 3000),
		MaxAttempts:     attempts,
		Backoff:         msEnv("CHECKOUT_BACKOFF_MS", 10),
		SeedProducts:    boolEnv("SEED_PRODUCTS"),
		AdminUserID:     getenv("ADMIN_USER_ID", ""),
		KafkaBrokers:    getenv("KAFKA_BROKERS", ""),
		OutboxInterval:  msEnv("OUTBOX_INTERVAL_MS", 1000),
		RedisURL:        getenv("REDIS_URL", ""),
		ProfileCacheTTL: msEnv("PROFILE_CACHE_TTL_MS", 60000),
		InsightURL:      getenv("INSIGHT_URL", ""),
		InsightTimeout:  msEnv("INSIGHT_TIMEOUT_MS", 30000),
	}, nil
}

// openStore returns the store and the outbox it commits events to.
func openStore(ctx context.Context, c cfg) (store.Store, outbox.Source, error) {
	if c.Store == "memory" {
		ms := memstore.New()
		return ms, ms, nil
	}
	pg, err := pgstore.New(ctx, c.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Ping(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, pg.Outbox(), nil
}

func main() {
	c, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, events, err := openStore(startCtx, c)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer st.Close()

	var users store.ProfileStore = st
	if c.RedisURL != "" {
		rdb, err := profilecache.Dial(startCtx, c.RedisURL)
		if err != nil {
			log.Fatalf("redis error: %v", err)
		}
		defer rdb.Close()
		users = profilecache.New(rdb, st, c.ProfileCacheTTL)
	}

	cat := catalog.New(st)
	if c.SeedProducts {
		n, err := cat.Seed(startCtx)
		if err != nil {
			log.Fatalf("seed error: %v", err)
		}
		logging.Log(logging.Fields{Service: service, Step: "seed_products", Status: "ok", Message: strconv.Itoa(n) + " products written"})
	}
	if c.AdminUserID != "" {
		if err := bootstrapAdmin(startCtx, users, domain.UserID(c.AdminUserID)); err != nil {
			log.Fatalf("admin bootstrap error: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	srvMetrics := metrics.NewServerMetrics(reg, service)

	engine := tx.NewEngine(st,
		tx.WithService(service),
		tx.WithTimeout(c.CheckoutTimeout),
		tx.WithPolicy(retry.Policy{MaxAttempts: c.MaxAttempts, BaseBackoff: c.Backoff, MaxBackoff: 25 * c.Backoff}),
		tx.WithMetrics(metrics.NewCheckoutMetrics(reg)),
	)

	kafkaClient := kafka.NewClient(c.KafkaBrokers)
	if producer, err := kafkaClient.NewProducer(); err == nil {
		defer producer.Close()
		relay := &outbox.Relay{Source: events, Publisher: producer, Interval: c.OutboxInterval, Service: service}
		go relay.Run(ctx)
	} else {
		logging.Log(logging.Fields{Service: service, Step: "outbox_relay", Status: "disabled", Message: "KAFKA_BROKERS not set"})
	}

	handler := httpapi.NewRouter(httpapi.Deps{
		Service:        service,
		Checkout:       engine,
		Catalog:        cat,
		Orders:         projection.New(st, users),
		Users:          users,
		Insight:        insight.New(c.InsightURL, c.InsightTimeout),
		Metrics:        srvMetrics,
		Gatherer:       reg,
		Ping:           st.Ping,
		RequestTimeout: c.RequestTimeout,
	})

	srv := &http.Server{Addr: ":" + c.Port, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("%s listening on :%s (store=%s)", service, c.Port, c.Store)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// bootstrapAdmin grants the admin role to one user, keeping any profile
// fields already on file.
func bootstrapAdmin(ctx context.Context, users store.ProfileStore, id domain.UserID) error {
	prof, err := users.GetProfile(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	prof.UID = id
	prof.Role = domain.RoleAdmin
	return users.PutProfile(ctx, prof)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func msEnv(k string, def int) time.Duration {
	ms, err := strconv.Atoi(getenv(k, strconv.Itoa(def)))
	if err != nil || ms < 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

func boolEnv(k string) bool {
	v := strings.ToLower(getenv(k, "false"))
	return v == "1" || v == "true" || v == "yes"
}
