package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/gateway"
	"github.com/ignatzorin/gig-escrow/internal/gateway/escrow"
	"github.com/ignatzorin/gig-escrow/internal/gateway/payout"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

func raiseTestDispute(t *testing.T, env *testEnv, p models.Project) *models.Dispute {
	t.Helper()
	d, err := env.disputes.Raise(context.Background(), p.ID, p.PosterUserID, RaiseDisputeInput{
		Reason:       "work not delivered",
		Description:  "Исполнитель не пришёл",
		EvidenceURLs: []string{"https://example.com/photo.jpg"},
	})
	require.NoError(t, err)
	return d
}

func intPtr(v int) *int { return &v }

func TestDisputeService_Raise(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.escrowedProject()

	_, err := env.disputes.Raise(ctx, p.ID, uuid.New(), RaiseDisputeInput{Reason: "x"})
	assert.True(t, apperror.IsForbidden(err))

	_, err = env.disputes.Raise(ctx, p.ID, p.PosterUserID, RaiseDisputeInput{})
	assert.True(t, apperror.IsValidation(err))

	d := raiseTestDispute(t, env, p)
	assert.Equal(t, valueobject.DisputeStatusOpen, d.Status)
	assert.Equal(t, p.ProviderUserID, d.Against)
	assert.Equal(t, valueobject.ProjectStatusDisputed, env.store.project(p.ID).Status)
	assert.Equal(t, []string{models.EventDisputeRaised}, env.notifier.events(p.ProviderUserID))

	_, err = env.disputes.Raise(ctx, p.ID, p.ProviderUserID, RaiseDisputeInput{Reason: "again"})
	assert.True(t, apperror.IsConflict(err))

	pending := pendingProject(env)
	_, err = env.disputes.Raise(ctx, pending.ID, pending.PosterUserID, RaiseDisputeInput{Reason: "x"})
	assert.True(t, apperror.IsConflict(err))
	assert.Equal(t, valueobject.ProjectStatusPendingPayment, env.store.project(pending.ID).Status)
}

func TestDisputeService_Respond(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.escrowedProject()
	d := raiseTestDispute(t, env, p)

	_, err := env.disputes.Respond(ctx, d.ID, p.PosterUserID, "я тоже", nil)
	assert.True(t, apperror.IsForbidden(err))

	updated, err := env.disputes.Respond(ctx, d.ID, p.ProviderUserID, "Я приходил, никого не было", []string{"https://example.com/door.jpg"})
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusUnderReview, updated.Status)
	require.NotNil(t, updated.CounterResponse)

	_, err = env.disputes.Respond(ctx, d.ID, p.ProviderUserID, "ещё раз", nil)
	assert.True(t, apperror.IsConflict(err))
}

func TestDisputeService_ResolveRefund(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.escrowedProject()
	d := raiseTestDispute(t, env, p)

	_, err := env.disputes.Resolve(ctx, d.ID, false, ResolveDisputeInput{Outcome: "refund"})
	assert.True(t, apperror.IsForbidden(err))

	_, err = env.disputes.Resolve(ctx, d.ID, true, ResolveDisputeInput{Outcome: "refund", SplitPercent: intPtr(50)})
	assert.True(t, apperror.IsValidation(err))

	env.escrowGw.On("Refund", mock.Anything, escrow.RefundRequest{
		IntentID:       *p.PaymentIntentID,
		Amount:         10000,
		HoldAmount:     10000,
		Currency:       "GBP",
		Reason:         "dispute",
		IdempotencyKey: disputeLegKey(d.ID, "refund"),
	}).Return(&escrow.Refund{ID: "re_1", Status: "succeeded", Amount: 10000}, nil).Once()

	resolved, err := env.disputes.Resolve(ctx, d.ID, true, ResolveDisputeInput{Outcome: "refund"})
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolvedRefund, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, valueobject.ProjectStatusRefunded, env.store.project(p.ID).Status)
	assert.Contains(t, env.notifier.events(p.PosterUserID), models.EventDisputeResolved)
	assert.Contains(t, env.notifier.events(p.ProviderUserID), models.EventDisputeResolved)
	env.escrowGw.AssertExpectations(t)
}

func TestDisputeService_ResolveSurvivesClientDisconnect(t *testing.T) {
	env := newTestEnv()
	p := env.escrowedProject()
	d := raiseTestDispute(t, env, p)

	ctx, cancel := context.WithCancel(context.Background())
	liveCtx := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })
	env.escrowGw.On("Refund", liveCtx, mock.MatchedBy(func(r escrow.RefundRequest) bool {
		return r.IdempotencyKey == disputeLegKey(d.ID, "refund")
	})).Return(&escrow.Refund{ID: "re_gone", Status: "succeeded", Amount: 10000}, nil).Once()

	// Оператор закрыл вкладку сразу после отправки решения.
	cancel()
	resolved, err := env.disputes.Resolve(ctx, d.ID, true, ResolveDisputeInput{Outcome: "refund"})
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolvedRefund, resolved.Status)

	legs, err := env.disputes.Legs(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, valueobject.LegStatusAccepted, legs[0].Status)
	env.escrowGw.AssertExpectations(t)
}

func TestDisputeService_ResolveRelease(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.escrowedProject()
	env.store.addAccount(p.ProviderUserID, "acc-rel")
	d := raiseTestDispute(t, env, p)

	env.payoutGw.On("CreateTransfer", mock.Anything, mock.MatchedBy(func(r payout.TransferRequest) bool {
		return r.Amount == 8800 && r.IdempotencyKey == disputeLegKey(d.ID, "payout")
	})).Return(&payout.Transfer{ID: "61000", Status: "incoming_payment_waiting"}, nil).Once()

	resolved, err := env.disputes.Resolve(ctx, d.ID, true, ResolveDisputeInput{Outcome: "release"})
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolvedRelease, resolved.Status)
	assert.Equal(t, valueobject.ProjectStatusCompleted, env.store.project(p.ID).Status)
	assert.Equal(t, int64(1200), env.store.ledgerSum(p.ID, valueobject.LedgerKindPlatformFee))
	assert.Equal(t, int64(8800), env.store.ledgerSum(p.ID, valueobject.LedgerKindPayoutAccrual))

	records := env.store.payoutList()
	require.Len(t, records, 1)
	assert.Equal(t, valueobject.PayoutStatusProcessing, records[0].Status)
	env.payoutGw.AssertExpectations(t)
}

// Сплит 60% по заказу на 100.00 GBP: заказчику возвращается 40.00,
// исполнителю 52.80 (60.00 за вычетом 12%), комиссия 7.20.
func TestDisputeService_ResolveSplit_WaitsForBothLegs(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.escrowedProject()
	env.store.addAccount(p.ProviderUserID, "acc-split")
	d := raiseTestDispute(t, env, p)

	env.escrowGw.On("Refund", mock.Anything, mock.MatchedBy(func(r escrow.RefundRequest) bool {
		return r.Amount == 4000 && r.IdempotencyKey == disputeLegKey(d.ID, "refund")
	})).Return(&escrow.Refund{ID: "re_split", Status: "pending", Amount: 4000}, nil).Once()

	env.payoutGw.On("CreateTransfer", mock.Anything, mock.Anything).
		Return(nil, &gateway.Error{Gateway: "payout", Operation: "create_transfer", StatusCode: 503, Temporary: true}).Once()

	partial, err := env.disputes.Resolve(ctx, d.ID, true, ResolveDisputeInput{Outcome: "split", SplitPercent: intPtr(60)})
	require.Error(t, err)
	assert.True(t, apperror.IsGateway(err))
	require.NotNil(t, partial)
	assert.Equal(t, valueobject.DisputeStatusUnderReview, partial.Status)
	assert.Equal(t, valueobject.ProjectStatusDisputed, env.store.project(p.ID).Status)

	legs, err := env.disputes.Legs(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	statuses := map[valueobject.LegKind]valueobject.LegStatus{}
	amounts := map[valueobject.LegKind]int64{}
	for _, leg := range legs {
		statuses[leg.Kind] = leg.Status
		amounts[leg.Kind] = leg.Amount
	}
	assert.Equal(t, valueobject.LegStatusAccepted, statuses[valueobject.LegKindRefund])
	assert.Equal(t, valueobject.LegStatusFailed, statuses[valueobject.LegKindPayout])
	assert.Equal(t, int64(4000), amounts[valueobject.LegKindRefund])
	assert.Equal(t, int64(5280), amounts[valueobject.LegKindPayout])

	// Другое решение по частично исполненному спору не принимается.
	_, err = env.disputes.Resolve(ctx, d.ID, true, ResolveDisputeInput{Outcome: "refund"})
	assert.True(t, apperror.IsConflict(err))

	env.payoutGw.On("CreateTransfer", mock.Anything, mock.MatchedBy(func(r payout.TransferRequest) bool {
		return r.Amount == 5280 && r.IdempotencyKey == disputeLegKey(d.ID, "payout")
	})).Return(&payout.Transfer{ID: "62000", Status: "processing"}, nil).Once()

	resolved, err := env.disputes.Resolve(ctx, d.ID, true, ResolveDisputeInput{Outcome: "split", SplitPercent: intPtr(60)})
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolvedSplit, resolved.Status)
	assert.Equal(t, valueobject.ProjectStatusCompleted, env.store.project(p.ID).Status)
	assert.Equal(t, int64(720), env.store.ledgerSum(p.ID, valueobject.LedgerKindPlatformFee))
	assert.Equal(t, int64(5280), env.store.ledgerSum(p.ID, valueobject.LedgerKindPayoutAccrual))

	// Возврат выполнен один раз, повтор шёл только по упавшей операции.
	env.escrowGw.AssertNumberOfCalls(t, "Refund", 1)
	env.escrowGw.AssertExpectations(t)
	env.payoutGw.AssertExpectations(t)
}

func TestDisputeService_ResolvedIsFinal(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.escrowedProject()
	d := raiseTestDispute(t, env, p)

	env.escrowGw.On("Refund", mock.Anything, mock.Anything).
		Return(&escrow.Refund{ID: "re_final", Status: "succeeded"}, nil).Once()
	_, err := env.disputes.Resolve(ctx, d.ID, true, ResolveDisputeInput{Outcome: "refund"})
	require.NoError(t, err)

	_, err = env.disputes.Resolve(ctx, d.ID, true, ResolveDisputeInput{Outcome: "refund"})
	assert.ErrorIs(t, err, apperror.ErrDisputeFinal)

	_, err = env.disputes.Respond(ctx, d.ID, p.ProviderUserID, "поздно", nil)
	assert.ErrorIs(t, err, apperror.ErrDisputeFinal)

	_, err = env.disputes.Raise(ctx, p.ID, p.ProviderUserID, RaiseDisputeInput{Reason: "снова"})
	assert.ErrorIs(t, err, apperror.ErrDisputeFinal)
	assert.True(t, apperror.IsConflict(err))

	got, err := env.disputes.GetByProject(ctx, p.ID, p.ProviderUserID, false)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	mine, err := env.disputes.ListForUser(ctx, p.PosterUserID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestDisputeService_SplitPercentBounds(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.escrowedProject()
	d := raiseTestDispute(t, env, p)

	for _, pct := range []int{0, 100, -5} {
		_, err := env.disputes.Resolve(ctx, d.ID, true, ResolveDisputeInput{Outcome: "split", SplitPercent: intPtr(pct)})
		assert.True(t, apperror.IsValidation(err), "percent %d", pct)
	}
	_, err := env.disputes.Resolve(ctx, d.ID, true, ResolveDisputeInput{Outcome: "split"})
	assert.True(t, apperror.IsValidation(err))
}
