package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/repository/common"
)

// Store собирает sqlx-репозитории поверх пула или открытой транзакции.
type Store struct {
	db *sqlx.DB
	q  sqlx.ExtContext

	gigs      *GigRepository
	projects  *ProjectRepository
	disputes  *DisputeRepository
	payouts   *PayoutRepository
	ledger    *LedgerRepository
	webhooks  *WebhookEventRepository
	accounts  *PayoutAccountRepository
	providers *ProviderDirectory
	holds     *HoldReleaseRepository
}

var _ domainrepo.Store = (*Store)(nil)

func NewStore(db *sqlx.DB) *Store {
	return newStore(db, db)
}

func newStore(db *sqlx.DB, q sqlx.ExtContext) *Store {
	return &Store{
		db:        db,
		q:         q,
		gigs:      NewGigRepository(q),
		projects:  NewProjectRepository(q),
		disputes:  NewDisputeRepository(q),
		payouts:   NewPayoutRepository(q),
		ledger:    NewLedgerRepository(q),
		webhooks:  NewWebhookEventRepository(q),
		accounts:  NewPayoutAccountRepository(q),
		providers: NewProviderDirectory(q),
		holds:     NewHoldReleaseRepository(q),
	}
}

func (s *Store) Gigs() domainrepo.GigRepository                     { return s.gigs }
func (s *Store) Projects() domainrepo.ProjectRepository             { return s.projects }
func (s *Store) Disputes() domainrepo.DisputeRepository             { return s.disputes }
func (s *Store) Payouts() domainrepo.PayoutRepository               { return s.payouts }
func (s *Store) Ledger() domainrepo.LedgerRepository                { return s.ledger }
func (s *Store) WebhookEvents() domainrepo.WebhookEventRepository   { return s.webhooks }
func (s *Store) PayoutAccounts() domainrepo.PayoutAccountRepository { return s.accounts }
func (s *Store) Providers() domainrepo.ProviderDirectory            { return s.providers }
func (s *Store) HoldReleases() domainrepo.HoldReleaseRepository     { return s.holds }

// WithinTx открывает транзакцию. Вложенный вызов переиспользует текущую.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domainrepo.Store) error) error {
	if _, inTx := s.q.(*sqlx.Tx); inTx {
		return fn(s)
	}
	return common.WithTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(newStore(s.db, tx))
	})
}

// Ping нужен health-эндпоинту.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
