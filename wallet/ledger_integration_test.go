package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestEscrowLifecycle_Integration connects to a real PostgreSQL via
// DATABASE_URL and drives lock, release, and refund against the live
// schema, including the unique-index double-release guard.
func TestEscrowLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "wallet_ledger") || !tableExists(ctx, t, pool, "deals") {
		t.Skip("database schema missing; apply files under migrations/ first")
	}

	nonce := time.Now().UnixNano()
	seedUser := func(role string) string {
		t.Helper()
		var id string
		if err := pool.QueryRow(ctx, `
			INSERT INTO users (email, full_name, role) VALUES ($1, $2, $3::user_role)
			RETURNING id
		`, fmt.Sprintf("%s+%d@example.com", role, nonce), "Itest "+role, role).Scan(&id); err != nil {
			t.Fatalf("seed %s: %v", role, err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO profiles (user_id) VALUES ($1)`, id); err != nil {
			t.Fatalf("seed %s profile: %v", role, err)
		}
		return id
	}

	clientID := seedUser("client")
	freelancerID := seedUser("freelancer")

	ledger := NewLedger()

	// bankroll the client through the ledger so balances stay reconcilable
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin fund tx: %v", err)
	}
	if err := ledger.ExternalCredit(ctx, tx, clientID, 100000, "USD"); err != nil {
		t.Fatalf("external credit: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit fund tx: %v", err)
	}

	seedDeal := func(price int64) string {
		t.Helper()
		var itemID, propID, dealID string
		if err := pool.QueryRow(ctx, `
			INSERT INTO work_items (owner_id, title, price_minor) VALUES ($1, 'Itest item', $2)
			RETURNING id
		`, clientID, price).Scan(&itemID); err != nil {
			t.Fatalf("seed work item: %v", err)
		}
		if err := pool.QueryRow(ctx, `
			INSERT INTO proposals (work_item_id, bidder_id, price_minor, delivery_days)
			VALUES ($1, $2, $3, 7) RETURNING id
		`, itemID, freelancerID, price).Scan(&propID); err != nil {
			t.Fatalf("seed proposal: %v", err)
		}
		if err := pool.QueryRow(ctx, `
			INSERT INTO deals (proposal_id, work_item_id, client_id, freelancer_id,
			                   price_minor, delivery_days, commission_rate_bp)
			VALUES ($1, $2, $3, $4, $5, 7, $6) RETURNING id
		`, propID, itemID, clientID, freelancerID, price, DefaultCommissionBP).Scan(&dealID); err != nil {
			t.Fatalf("seed deal: %v", err)
		}
		return dealID
	}

	inTx := func(name string, fn func(tx pgx.Tx) error) error {
		t.Helper()
		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Fatalf("%s: begin: %v", name, err)
		}
		defer tx.Rollback(ctx)
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	// lock then release to the freelancer
	dealA := seedDeal(10000)
	if err := inTx("lock A", func(tx pgx.Tx) error {
		return ledger.Lock(ctx, tx, dealA, clientID, 10000, "USD")
	}); err != nil {
		t.Fatalf("lock A: %v", err)
	}

	wal, err := ledger.Get(ctx, pool, clientID)
	if err != nil {
		t.Fatalf("get client wallet: %v", err)
	}
	if wal.BalanceMinor != 90000 {
		t.Fatalf("client balance after lock = %d, want 90000", wal.BalanceMinor)
	}

	if err := inTx("release A", func(tx pgx.Tx) error {
		return ledger.Release(ctx, tx, dealA, freelancerID, SideFreelancer, DefaultCommissionBP)
	}); err != nil {
		t.Fatalf("release A: %v", err)
	}

	fw, err := ledger.Get(ctx, pool, freelancerID)
	if err != nil {
		t.Fatalf("get freelancer wallet: %v", err)
	}
	if fw.BalanceMinor != 8500 || fw.TotalEarnedMinor != 8500 {
		t.Fatalf("freelancer wallet = %d/%d, want 8500/8500", fw.BalanceMinor, fw.TotalEarnedMinor)
	}

	pw, err := ledger.Get(ctx, pool, PlatformWalletID)
	if err != nil {
		t.Fatalf("get platform wallet: %v", err)
	}
	if pw.BalanceMinor < 1500 {
		t.Fatalf("platform balance = %d, want at least 1500", pw.BalanceMinor)
	}

	// the unique outcome index rejects a second settlement
	err = inTx("double release A", func(tx pgx.Tx) error {
		return ledger.Release(ctx, tx, dealA, freelancerID, SideFreelancer, DefaultCommissionBP)
	})
	if !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("double release: expected ErrAlreadyReleased, got %v", err)
	}
	err = inTx("refund after release A", func(tx pgx.Tx) error {
		return ledger.Refund(ctx, tx, dealA)
	})
	if !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("refund after release: expected ErrAlreadyReleased, got %v", err)
	}

	// lock then refund returns the full amount to the client
	dealB := seedDeal(20000)
	if err := inTx("lock B", func(tx pgx.Tx) error {
		return ledger.Lock(ctx, tx, dealB, clientID, 20000, "USD")
	}); err != nil {
		t.Fatalf("lock B: %v", err)
	}
	if err := inTx("refund B", func(tx pgx.Tx) error {
		return ledger.Refund(ctx, tx, dealB)
	}); err != nil {
		t.Fatalf("refund B: %v", err)
	}

	wal, err = ledger.Get(ctx, pool, clientID)
	if err != nil {
		t.Fatalf("get client wallet after refund: %v", err)
	}
	if wal.BalanceMinor != 90000 {
		t.Fatalf("client balance after refund = %d, want 90000", wal.BalanceMinor)
	}

	// a client-side release returns escrow minus commission without counting
	// it as earnings; only freelancer payouts move total_earned
	dealD := seedDeal(10000)
	if err := inTx("lock D", func(tx pgx.Tx) error {
		return ledger.Lock(ctx, tx, dealD, clientID, 10000, "USD")
	}); err != nil {
		t.Fatalf("lock D: %v", err)
	}
	if err := inTx("release D to client", func(tx pgx.Tx) error {
		return ledger.Release(ctx, tx, dealD, clientID, SideClient, DefaultCommissionBP)
	}); err != nil {
		t.Fatalf("release D: %v", err)
	}

	wal, err = ledger.Get(ctx, pool, clientID)
	if err != nil {
		t.Fatalf("get client wallet after client win: %v", err)
	}
	if wal.BalanceMinor != 88500 {
		t.Fatalf("client balance after client win = %d, want 88500", wal.BalanceMinor)
	}
	if wal.TotalEarnedMinor != 100000 {
		t.Fatalf("client total earned = %d, want 100000; returned escrow is not income", wal.TotalEarnedMinor)
	}

	// insufficient funds refuses the lock and writes nothing
	dealC := seedDeal(5000000)
	err = inTx("overdraw C", func(tx pgx.Tx) error {
		return ledger.Lock(ctx, tx, dealC, clientID, 5000000, "USD")
	})
	var funds *InsufficientFundsError
	if !errors.As(err, &funds) {
		t.Fatalf("overdraw: expected InsufficientFundsError, got %v", err)
	}
	if funds.Required != 5000000 {
		t.Fatalf("overdraw required = %d", funds.Required)
	}

	entries, err := ledger.EntriesForDeal(ctx, pool, dealC)
	if err != nil {
		t.Fatalf("entries for overdrawn deal: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("overdrawn deal has %d ledger entries, want 0", len(entries))
	}

	// balance must always reconcile against the ledger sum
	for _, userID := range []string{clientID, freelancerID} {
		sum, err := ledger.SumEntries(ctx, pool, userID)
		if err != nil {
			t.Fatalf("sum entries: %v", err)
		}
		w, err := ledger.Get(ctx, pool, userID)
		if err != nil {
			t.Fatalf("get wallet: %v", err)
		}
		if w.BalanceMinor != sum {
			t.Fatalf("wallet %s balance %d != ledger sum %d", userID, w.BalanceMinor, sum)
		}
	}

	// ledger rows and deals are append-only, so no row cleanup here; each
	// run seeds unique users and items.
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
