package wallet

import "github.com/shopspring/decimal"

// Commission rates in basis points. Boosted work items carry the elevated
// rate; the applicable rate is frozen onto the deal at creation time so
// payout never re-derives it.
const (
	DefaultCommissionBP = 1500
	BoostedCommissionBP = 2500
)

// CommissionRateBP returns the rate to freeze onto a new deal.
func CommissionRateBP(boosted bool) int32 {
	if boosted {
		return BoostedCommissionBP
	}
	return DefaultCommissionBP
}

// SplitPrice divides a deal price into platform commission and winner payout.
// commission = round(price * rate); payout = price - commission, so the two
// always sum to the price exactly.
func SplitPrice(priceMinor int64, rateBP int32) (commission, payout int64) {
	rate := decimal.New(int64(rateBP), -4)
	commission = decimal.NewFromInt(priceMinor).Mul(rate).Round(0).IntPart()
	payout = priceMinor - commission
	return commission, payout
}
