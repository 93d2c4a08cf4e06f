package repository

import "context"

// Store - единица работы над всеми репозиториями. Внутри WithinTx все
// репозитории работают в одной транзакции.
type Store interface {
	Gigs() GigRepository
	Projects() ProjectRepository
	Disputes() DisputeRepository
	Payouts() PayoutRepository
	Ledger() LedgerRepository
	WebhookEvents() WebhookEventRepository
	PayoutAccounts() PayoutAccountRepository
	Providers() ProviderDirectory
	HoldReleases() HoldReleaseRepository

	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
