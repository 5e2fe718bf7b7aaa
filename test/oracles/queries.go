package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant sweep. Each query selects violating rows, so a
// passing oracle returns zero rows.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_balance_equals_ledger_sum",
			SQL: `SELECT p.user_id, p.balance_minor, COALESCE(l.total, 0) AS ledger_sum
                  FROM profiles p
                  LEFT JOIN (SELECT wallet_id, SUM(amount_minor) AS total
                             FROM wallet_ledger GROUP BY wallet_id) l
                    ON l.wallet_id = p.user_id
                  WHERE p.balance_minor <> COALESCE(l.total, 0)`,
		},
		{
			Name: "O2_no_negative_balance",
			SQL:  `SELECT user_id, balance_minor FROM profiles WHERE balance_minor < 0`,
		},
		{
			Name: "O3_one_active_deal_per_item",
			SQL: `SELECT work_item_id, COUNT(*) FROM deals
                  WHERE status IN ('in_progress','pending_review','revision_requested','disputed')
                  GROUP BY work_item_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_one_outcome_per_deal",
			SQL: `SELECT deal_id, COUNT(*) FROM wallet_ledger
                  WHERE kind IN ('release_client','release_freelancer','refund')
                  GROUP BY deal_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_every_deal_locked_once",
			SQL: `SELECT d.id FROM deals d
                  LEFT JOIN wallet_ledger l ON l.deal_id = d.id AND l.kind = 'lock'
                  GROUP BY d.id HAVING COUNT(l.id) <> 1`,
		},
		{
			Name: "O6_settled_deal_conserves_funds",
			SQL: `SELECT d.id, d.status, SUM(l.amount_minor) FROM deals d
                  JOIN wallet_ledger l ON l.deal_id = d.id
                  WHERE d.status IN ('completed','resolved_client','resolved_freelancer','cancelled')
                  GROUP BY d.id, d.status HAVING SUM(l.amount_minor) <> 0`,
		},
		{
			Name: "O7_commission_plus_payout_equals_price",
			SQL: `SELECT d.id FROM deals d
                  JOIN wallet_ledger w ON w.deal_id = d.id
                    AND w.kind IN ('release_client','release_freelancer')
                  JOIN wallet_ledger c ON c.deal_id = d.id
                    AND c.kind = 'platform_commission'
                  WHERE w.amount_minor + c.amount_minor <> d.price_minor`,
		},
		{
			Name: "O8_one_open_dispute_per_deal",
			SQL: `SELECT deal_id, COUNT(*) FROM disputes WHERE status = 'open'
                  GROUP BY deal_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O9_resolved_dispute_matches_deal",
			SQL: `SELECT di.id FROM disputes di
                  JOIN deals d ON d.id = di.deal_id
                  WHERE di.status IN ('resolved_client','resolved_freelancer')
                    AND d.status::text <> di.status::text`,
		},
		{
			Name: "O10_deal_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='no_delete_deals')`,
		},
		{
			Name: "O11_ledger_immutability_guard",
			SQL: `SELECT 'missing_immutability_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='no_update_wallet_ledger')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
