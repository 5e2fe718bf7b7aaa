package wallet

import "time"

// Kind tags a ledger entry with the fund movement it records.
type Kind string

const (
	KindLock               Kind = "lock"
	KindReleaseClient      Kind = "release_client"
	KindReleaseFreelancer  Kind = "release_freelancer"
	KindPlatformCommission Kind = "platform_commission"
	KindRefund             Kind = "refund"
	KindExternalCredit     Kind = "external_credit"
)

// PlatformWalletID is the reserved wallet that accumulates commissions.
const PlatformWalletID = "00000000-0000-0000-0000-000000000001"

// Entry is one immutable fund movement against a wallet. Amounts are signed
// minor units: debits are negative, credits positive.
type Entry struct {
	ID          string
	DealID      *string
	WalletID    string
	AmountMinor int64
	Currency    string
	Kind        Kind
	CreatedAt   time.Time
}

// Wallet mirrors the wallet columns on the profiles table.
type Wallet struct {
	UserID           string
	BalanceMinor     int64
	TotalEarnedMinor int64
	Currency         string
	UpdatedAt        time.Time
}

// Side identifies which deal party a release pays out to.
type Side string

const (
	SideClient     Side = "client"
	SideFreelancer Side = "freelancer"
)

func (s Side) releaseKind() Kind {
	if s == SideClient {
		return KindReleaseClient
	}
	return KindReleaseFreelancer
}
