package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhoulihan/workdesk/backend/internal/auth"
	"github.com/zhoulihan/workdesk/backend/internal/config"
	"github.com/zhoulihan/workdesk/backend/internal/handler"
	"github.com/zhoulihan/workdesk/backend/internal/notify/feishu"
	"github.com/zhoulihan/workdesk/backend/internal/service/conversation"
	"github.com/zhoulihan/workdesk/backend/internal/service/escalation"
	"github.com/zhoulihan/workdesk/backend/internal/service/responder"
	workorderservice "github.com/zhoulihan/workdesk/backend/internal/service/workorder"
	"github.com/zhoulihan/workdesk/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Pick the ticket store: sqlite when a path is configured, memory otherwise.
	var ticketStore store.TicketStore
	if cfg.Store.Path != "" {
		sqliteStore, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			log.Fatalf("failed to open sqlite store at %s: %v", cfg.Store.Path, err)
		}
		defer sqliteStore.Close()
		ticketStore = sqliteStore
		log.Printf("sqlite store opened at %s", cfg.Store.Path)
	} else {
		ticketStore = store.NewMemoryStore()
		log.Println("STORE_PATH not set, using in-memory store")
	}

	// Initialize the Feishu notifier when a webhook is configured.
	var notifier escalation.Notifier
	if cfg.Notify.Enabled() {
		notifier = feishu.New(cfg.Notify, cfg.Catalog)
		log.Println("Feishu notifier initialized successfully")
	} else {
		log.Println("ADMIN_FEISHU_URL not set, admin notifications disabled")
	}

	// Initialize the automated responder.
	var resp *responder.Responder
	if cfg.AI.Enabled() {
		backend, err := responder.NewChainBackend(ctx, cfg.AI, cfg.Catalog)
		if err != nil {
			log.Printf("warning: failed to initialize responder backend: %v", err)
			log.Println("continuing without automated replies")
		} else {
			resp = responder.New(backend)
			log.Println("automated responder initialized successfully")
		}
	} else {
		log.Println("Ark credentials not configured, automated replies disabled")
	}

	gate := escalation.NewGate(ticketStore, notifier, escalation.DefaultPolicy)
	ctrl := conversation.New(ticketStore, resp, gate)
	svc := workorderservice.NewService(ticketStore, notifier, cfg.Catalog)
	authSvc := auth.New(cfg.Auth.Secret, cfg.Auth.TokenTTL)

	router := handler.NewRouter(svc, ctrl, authSvc)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Workdesk backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
