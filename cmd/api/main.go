package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/authz"
	"gatekeep.org/internal/catalog"
	"gatekeep.org/internal/credential"
	"gatekeep.org/internal/httpapi"
	"gatekeep.org/internal/identity"
	"gatekeep.org/internal/obs"
	"gatekeep.org/internal/ratelimit"
	"gatekeep.org/internal/store/memory"
	"gatekeep.org/internal/store/pg"
	"gatekeep.org/internal/subscription"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

// stores groups the persistence views main wires into the services.
type stores struct {
	identity    identity.Store
	catalog     catalog.Store
	credentials credential.Store
	subs        subscription.Store
	sink        audit.Sink
	trail       audit.Log
	probe       httpapi.ReadyProbe
	close       func() error
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("GATEKEEP_AUTH_SECRET")
	if secret == "" {
		log.Fatal("GATEKEEP_AUTH_SECRET is required")
	}
	hashKey := os.Getenv("GATEKEEP_CRED_HASH_KEY")
	if hashKey == "" {
		hashKey = secret
	}

	st := openStores()
	defer func() { _ = st.close() }()

	var recorderOpts []audit.Option
	if boolEnv("GATEKEEP_AUDIT_MANDATORY") {
		recorderOpts = append(recorderOpts, audit.WithMandatory())
	}
	recorder := audit.NewRecorder(st.sink, recorderOpts...)

	creds, err := credential.NewService(st.credentials, identity.NewDirectory(st.identity), recorder, hashKey)
	if err != nil {
		log.Fatalf("credential service: %v", err)
	}
	tokens, err := identity.NewTokenService(secret)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	idsvc, err := identity.NewService(st.identity, creds, tokens, recorder)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}
	cat, err := catalog.NewService(st.catalog, recorder)
	if err != nil {
		log.Fatalf("catalog service: %v", err)
	}
	limiter := ratelimit.NewSlidingWindow()
	subs, err := subscription.NewService(st.subs, cat, limiter, recorder)
	if err != nil {
		log.Fatalf("subscription service: %v", err)
	}
	engine, err := authz.NewEngine(subs, recorder)
	if err != nil {
		log.Fatalf("authz engine: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Identity:      idsvc,
		Catalog:       cat,
		Subscriptions: subs,
		Credentials:   creds,
		Engine:        engine,
		Limiter:       limiter,
		AuditLog:      st.trail,
		ReadyProbe:    st.probe,
		Version:       version,
	})

	addr := os.Getenv("GATEKEEP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gatekeep-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = recorder.Flush(context.Background())
	log.Println("Stopped")
}

// openStores selects the backend: Postgres when a DSN is configured, the
// in-process store otherwise (development runs).
func openStores() stores {
	if dsn := os.Getenv("GATEKEEP_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		return stores{
			identity:    pgStore,
			catalog:     pgStore,
			credentials: pgStore.Credentials(),
			subs:        pgStore.Subscriptions(),
			sink:        pgStore.AuditSink(),
			trail:       pgStore.AuditLog(),
			probe:       httpapi.ReadyProbe{DB: pgStore.DB()},
			close:       pgStore.Close,
		}
	}
	mem := memory.New()
	trail := memory.NewAuditSink()
	return stores{
		identity:    mem,
		catalog:     mem,
		credentials: mem.Credentials(),
		subs:        mem.Subscriptions(),
		sink:        audit.Tee{trail, audit.LogSink{}},
		trail:       trail,
		probe:       httpapi.ReadyProbe{},
		close:       func() error { return nil },
	}
}

func boolEnv(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}
