package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"dealflow/auth"
	"dealflow/chat"
	"dealflow/db"
	"dealflow/deal"
	"dealflow/dispute"
	"dealflow/httpapi"
	"dealflow/payments"
	"dealflow/wallet"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authSvc := auth.NewService(auth.NewRepository(pool), jwtSecret)
	ledger := wallet.NewLedger()
	chats := chat.NewProvisioner(pool)
	accepts := deal.NewCoordinator(pool, chats, ledger)
	deals := deal.NewService(pool, ledger)
	disputes := dispute.NewArbiter(pool, ledger, chats)
	checkout := payments.NewService(pool, ledger)

	server := httpapi.NewServer(pool, authSvc, accepts, deals, disputes, checkout, ledger, chats)

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
