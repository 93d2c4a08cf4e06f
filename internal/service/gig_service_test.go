package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/gateway/escrow"
	"github.com/ignatzorin/gig-escrow/internal/models"
	"github.com/ignatzorin/gig-escrow/internal/pkg/apperror"
)

func postTestGig(t *testing.T, env *testEnv, requester uuid.UUID) *models.GigPost {
	t.Helper()
	gig, err := env.gigs.PostGig(context.Background(), requester, PostGigInput{
		SkillRequired: "plumbing",
		Description:   "Течёт кран",
		Amount:        "100.00",
		Currency:      "GBP",
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return gig
}

func TestGigService_PostGig_BroadcastsToProviders(t *testing.T) {
	env := newTestEnv()
	requester := uuid.New()
	p1, p2 := uuid.New(), uuid.New()
	env.store.addProvider("plumbing", p1)
	env.store.addProvider("plumbing", p2)
	env.store.addProvider("plumbing", requester)
	env.store.addProvider("electrics", uuid.New())

	gig := postTestGig(t, env, requester)
	assert.Equal(t, valueobject.GigStatusOpen, gig.Status)
	assert.Equal(t, int64(10000), gig.PaymentAmount)

	responses, err := env.gigs.ListResponses(context.Background(), gig.ID, requester)
	require.NoError(t, err)
	assert.Len(t, responses, 2)
	for _, r := range responses {
		assert.Equal(t, valueobject.ResponseStatusPending, r.Status)
	}
	assert.Equal(t, []string{models.EventGigBroadcast}, env.notifier.events(p1))
	assert.Equal(t, []string{models.EventGigBroadcast}, env.notifier.events(p2))
	assert.Empty(t, env.notifier.events(requester))
}

func TestGigService_PostGig_Validation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	_, err := env.gigs.PostGig(ctx, uuid.New(), PostGigInput{Amount: "10", ExpiresAt: future})
	assert.True(t, apperror.IsValidation(err))

	_, err = env.gigs.PostGig(ctx, uuid.New(), PostGigInput{SkillRequired: "x", Amount: "0", ExpiresAt: future})
	assert.True(t, apperror.IsValidation(err))

	_, err = env.gigs.PostGig(ctx, uuid.New(), PostGigInput{SkillRequired: "x", Amount: "10", ExpiresAt: time.Now().Add(-time.Minute)})
	assert.True(t, apperror.IsValidation(err))
}

func TestGigService_PostGig_PreauthFailure(t *testing.T) {
	env := newTestEnv()
	env.escrowGw.On("CreateHold", mock.Anything, mock.Anything).
		Return(nil, apperror.New(apperror.ErrCodeExternalGateway, "card declined")).Once()

	_, err := env.gigs.PostGig(context.Background(), uuid.New(), PostGigInput{
		SkillRequired: "plumbing",
		Amount:        "50",
		ExpiresAt:     time.Now().Add(time.Hour),
		Preauthorize:  true,
	})
	assert.True(t, apperror.IsGateway(err))
	env.escrowGw.AssertExpectations(t)
}

func TestGigService_Respond(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	requester, invited, walkIn := uuid.New(), uuid.New(), uuid.New()
	env.store.addProvider("plumbing", invited)
	gig := postTestGig(t, env, requester)

	resp, err := env.gigs.Respond(ctx, gig.ID, invited, "accepted", nil)
	require.NoError(t, err)
	assert.Equal(t, valueobject.ResponseStatusAccepted, resp.Status)

	_, err = env.gigs.Respond(ctx, gig.ID, invited, "declined", nil)
	assert.ErrorIs(t, err, apperror.ErrAlreadyResponded)

	resp, err = env.gigs.Respond(ctx, gig.ID, walkIn, "accepted", nil)
	require.NoError(t, err)
	assert.Equal(t, walkIn, resp.ProviderID)

	_, err = env.gigs.Respond(ctx, gig.ID, uuid.New(), "maybe", nil)
	assert.True(t, apperror.IsValidation(err))

	_, err = env.gigs.Respond(ctx, uuid.New(), invited, "accepted", nil)
	assert.True(t, apperror.IsNotFound(err))
}

func TestGigService_SelectProvider_SingleWinner(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	requester := uuid.New()
	providers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, p := range providers {
		env.store.addProvider("plumbing", p)
	}
	gig := postTestGig(t, env, requester)

	var responseIDs []uuid.UUID
	for _, p := range providers {
		resp, err := env.gigs.Respond(ctx, gig.ID, p, "accepted", nil)
		require.NoError(t, err)
		responseIDs = append(responseIDs, resp.ID)
	}

	const attempts = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []*models.Project
		conflict int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			project, err := env.gigs.SelectProvider(ctx, gig.ID, responseIDs[i%len(responseIDs)], requester)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, project)
				return
			}
			if apperror.IsConflict(err) {
				conflict++
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, attempts-1, conflict)
	assert.Equal(t, 1, env.store.projectCount())
	assert.Equal(t, valueobject.GigStatusFilled, env.store.gig(gig.ID).Status)

	project := winners[0]
	assert.Equal(t, valueobject.ProjectStatusPendingPayment, project.Status)
	assert.Equal(t, int64(1200), project.PlatformFeeAmount)
	assert.Equal(t, int64(8800), project.ProviderPayoutAmount)
	assert.Equal(t, []string{models.EventGigBroadcast, models.EventGigProviderSelected}, env.notifier.events(project.ProviderUserID))

	_, err := env.gigs.SelectProvider(ctx, gig.ID, responseIDs[0], requester)
	assert.ErrorIs(t, err, apperror.ErrGigAlreadyFilled)
}

func TestGigService_SelectProvider_Checks(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	requester, provider := uuid.New(), uuid.New()
	env.store.addProvider("plumbing", provider)
	gig := postTestGig(t, env, requester)

	responses, err := env.gigs.ListResponses(ctx, gig.ID, requester)
	require.NoError(t, err)
	require.Len(t, responses, 1)

	_, err = env.gigs.SelectProvider(ctx, gig.ID, responses[0].ID, uuid.New())
	assert.True(t, apperror.IsForbidden(err))

	_, err = env.gigs.SelectProvider(ctx, gig.ID, responses[0].ID, requester)
	assert.True(t, apperror.IsValidation(err), "pending invitation cannot be selected")

	_, err = env.gigs.SelectProvider(ctx, gig.ID, uuid.New(), requester)
	assert.ErrorIs(t, err, apperror.ErrResponseNotFound)

	_, err = env.gigs.ListResponses(ctx, gig.ID, provider)
	assert.True(t, apperror.IsForbidden(err))
}

func TestGigService_ExpireStale(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	requester, provider := uuid.New(), uuid.New()
	env.store.addProvider("plumbing", provider)

	intent := "pi_gig"
	env.escrowGw.On("CreateHold", mock.Anything, mock.MatchedBy(func(r escrow.HoldRequest) bool {
		return r.Amount == 10000
	})).Return(&escrow.Intent{ID: intent, Status: "requires_capture"}, nil)

	stale, err := env.gigs.PostGig(ctx, requester, PostGigInput{
		SkillRequired: "plumbing",
		Amount:        "100.00",
		ExpiresAt:     time.Now().Add(time.Minute),
		Preauthorize:  true,
	})
	require.NoError(t, err)
	env.escrowGw.On("Cancel", mock.Anything, intent, gigReleaseKey(stale.ID)).
		Return(&escrow.Intent{ID: intent, Status: "canceled"}, nil).Once()

	taken := postTestGig(t, env, requester)
	_, err = env.gigs.Respond(ctx, taken.ID, provider, "accepted", nil)
	require.NoError(t, err)

	expired, err := env.gigs.ExpireStale(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	assert.Equal(t, valueobject.GigStatusExpired, env.store.gig(stale.ID).Status)
	assert.Equal(t, valueobject.GigStatusOpen, env.store.gig(taken.ID).Status)

	responses, err := env.gigs.ListResponses(ctx, stale.ID, requester)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, valueobject.ResponseStatusExpired, responses[0].Status)

	// Повторный проход ничего не делает.
	expired, err = env.gigs.ExpireStale(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, expired)
	env.escrowGw.AssertExpectations(t)
}

func TestGigService_CancelGig(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	requester := uuid.New()
	gig := postTestGig(t, env, requester)

	_, err := env.gigs.CancelGig(ctx, gig.ID, uuid.New())
	assert.True(t, apperror.IsForbidden(err))

	cancelled, err := env.gigs.CancelGig(ctx, gig.ID, requester)
	require.NoError(t, err)
	assert.Equal(t, valueobject.GigStatusCancelled, cancelled.Status)

	_, err = env.gigs.CancelGig(ctx, gig.ID, requester)
	assert.NoError(t, err)

	_, err = env.gigs.Respond(ctx, gig.ID, uuid.New(), "accepted", nil)
	assert.ErrorIs(t, err, apperror.ErrGigNotFound)
}
