package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	domainrepo "github.com/ignatzorin/gig-escrow/internal/domain/repository"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/gateway/escrow"
	"github.com/ignatzorin/gig-escrow/internal/gateway/payout"
	"github.com/ignatzorin/gig-escrow/internal/models"
)

// memState - содержимое in-memory хранилища для тестов сервисов.
type memState struct {
	seq       int
	gigs      map[uuid.UUID]models.GigPost
	responses map[uuid.UUID]models.GigResponse
	skills    map[string][]uuid.UUID
	projects  map[uuid.UUID]models.Project
	disputes  map[uuid.UUID]models.Dispute
	legs      map[uuid.UUID]models.DisputeLeg
	payouts   map[uuid.UUID]models.PayoutRecord
	accounts  map[uuid.UUID]models.PayoutAccount
	ledger    []models.LedgerEntry
	events    map[string]models.WebhookEvent
	holds     map[string]models.HoldRelease
}

func newMemState() *memState {
	return &memState{
		gigs:      map[uuid.UUID]models.GigPost{},
		responses: map[uuid.UUID]models.GigResponse{},
		skills:    map[string][]uuid.UUID{},
		projects:  map[uuid.UUID]models.Project{},
		disputes:  map[uuid.UUID]models.Dispute{},
		legs:      map[uuid.UUID]models.DisputeLeg{},
		payouts:   map[uuid.UUID]models.PayoutRecord{},
		accounts:  map[uuid.UUID]models.PayoutAccount{},
		events:    map[string]models.WebhookEvent{},
		holds:     map[string]models.HoldRelease{},
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	c.seq = st.seq
	for k, v := range st.gigs {
		c.gigs[k] = v
	}
	for k, v := range st.responses {
		c.responses[k] = v
	}
	for k, v := range st.skills {
		c.skills[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range st.projects {
		c.projects[k] = v
	}
	for k, v := range st.disputes {
		c.disputes[k] = v
	}
	for k, v := range st.legs {
		c.legs[k] = v
	}
	for k, v := range st.payouts {
		c.payouts[k] = v
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	c.ledger = append([]models.LedgerEntry(nil), st.ledger...)
	for k, v := range st.events {
		c.events[k] = v
	}
	for k, v := range st.holds {
		c.holds[k] = v
	}
	return c
}

// tick даёт монотонное время создания, чтобы порядок записей был стабильным.
func (st *memState) tick() time.Time {
	st.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(st.seq) * time.Millisecond)
}

// memStore - Store поверх памяти. Транзакции сериализуются одним мьютексом
// и откатываются восстановлением снимка.
type memStore struct {
	mu   *sync.Mutex
	st   **memState
	inTx bool
}

func newMemStore() *memStore {
	st := newMemState()
	return &memStore{mu: &sync.Mutex{}, st: &st}
}

func (s *memStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) state() *memState { return *s.st }

func (s *memStore) Gigs() domainrepo.GigRepository                     { return memGigs{s} }
func (s *memStore) Projects() domainrepo.ProjectRepository             { return memProjects{s} }
func (s *memStore) Disputes() domainrepo.DisputeRepository             { return memDisputes{s} }
func (s *memStore) Payouts() domainrepo.PayoutRepository               { return memPayouts{s} }
func (s *memStore) Ledger() domainrepo.LedgerRepository                { return memLedger{s} }
func (s *memStore) WebhookEvents() domainrepo.WebhookEventRepository   { return memEvents{s} }
func (s *memStore) PayoutAccounts() domainrepo.PayoutAccountRepository { return memAccounts{s} }
func (s *memStore) Providers() domainrepo.ProviderDirectory            { return memProviders{s} }
func (s *memStore) HoldReleases() domainrepo.HoldReleaseRepository     { return memHolds{s} }

func (s *memStore) WithinTx(ctx context.Context, fn func(tx domainrepo.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.state().clone()
	if err := fn(&memStore{mu: s.mu, st: s.st, inTx: true}); err != nil {
		*s.st = snapshot
		return err
	}
	return nil
}

// Хелперы наполнения и чтения состояния из тестов.

func (s *memStore) addProvider(skill string, userID uuid.UUID) {
	defer s.lock()()
	s.state().skills[skill] = append(s.state().skills[skill], userID)
}

func (s *memStore) addAccount(userID uuid.UUID, account string) {
	defer s.lock()()
	s.state().accounts[userID] = models.PayoutAccount{UserID: userID, RecipientAccountID: account, Currency: "GBP"}
}

func (s *memStore) putProject(p models.Project) models.Project {
	defer s.lock()()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = s.state().tick()
	s.state().projects[p.ID] = p
	return p
}

func (s *memStore) project(id uuid.UUID) models.Project {
	defer s.lock()()
	return s.state().projects[id]
}

func (s *memStore) gig(id uuid.UUID) models.GigPost {
	defer s.lock()()
	return s.state().gigs[id]
}

func (s *memStore) projectCount() int {
	defer s.lock()()
	return len(s.state().projects)
}

func (s *memStore) payoutList() []models.PayoutRecord {
	defer s.lock()()
	out := make([]models.PayoutRecord, 0, len(s.state().payouts))
	for _, p := range s.state().payouts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memStore) ledgerSum(projectID uuid.UUID, kind valueobject.LedgerKind) int64 {
	sum, _ := memLedger{s}.SumByKind(context.Background(), projectID, kind)
	return sum
}

func (s *memStore) event(id string) (models.WebhookEvent, bool) {
	defer s.lock()()
	ev, ok := s.state().events[id]
	return ev, ok
}

func (s *memStore) holdRelease(intentID string) (models.HoldRelease, bool) {
	defer s.lock()()
	rel, ok := s.state().holds[intentID]
	return rel, ok
}

type memGigs struct{ s *memStore }

func (r memGigs) Create(ctx context.Context, gig *models.GigPost) error {
	defer r.s.lock()()
	st := r.s.state()
	if gig.ID == uuid.Nil {
		gig.ID = uuid.New()
	}
	gig.CreatedAt = st.tick()
	gig.UpdatedAt = gig.CreatedAt
	st.gigs[gig.ID] = *gig
	return nil
}

func (r memGigs) GetByID(ctx context.Context, id uuid.UUID) (*models.GigPost, error) {
	defer r.s.lock()()
	gig, ok := r.s.state().gigs[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &gig, nil
}

func (r memGigs) setStatus(id uuid.UUID, from, to valueobject.GigStatus) bool {
	st := r.s.state()
	gig, ok := st.gigs[id]
	if !ok || gig.Status != from {
		return false
	}
	gig.Status = to
	st.gigs[id] = gig
	return true
}

func (r memGigs) MarkFilled(ctx context.Context, gigID, responseID uuid.UUID) (bool, error) {
	defer r.s.lock()()
	if !r.setStatus(gigID, valueobject.GigStatusOpen, valueobject.GigStatusFilled) {
		return false, nil
	}
	gig := r.s.state().gigs[gigID]
	gig.SelectedResponseID = &responseID
	r.s.state().gigs[gigID] = gig
	return true, nil
}

func (r memGigs) Cancel(ctx context.Context, gigID uuid.UUID) (bool, error) {
	defer r.s.lock()()
	return r.setStatus(gigID, valueobject.GigStatusOpen, valueobject.GigStatusCancelled), nil
}

func (r memGigs) hasAccepted(gigID uuid.UUID) bool {
	for _, resp := range r.s.state().responses {
		if resp.GigID == gigID && resp.Status == valueobject.ResponseStatusAccepted {
			return true
		}
	}
	return false
}

func (r memGigs) MarkExpired(ctx context.Context, gigID uuid.UUID, now time.Time) (bool, error) {
	defer r.s.lock()()
	gig, ok := r.s.state().gigs[gigID]
	if !ok || gig.ExpiresAt.After(now) || r.hasAccepted(gigID) {
		return false, nil
	}
	return r.setStatus(gigID, valueobject.GigStatusOpen, valueobject.GigStatusExpired), nil
}

func (r memGigs) ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.GigPost, error) {
	defer r.s.lock()()
	var out []models.GigPost
	for _, gig := range r.s.state().gigs {
		if gig.Status == valueobject.GigStatusOpen && !gig.ExpiresAt.After(now) && !r.hasAccepted(gig.ID) {
			out = append(out, gig)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memGigs) findResponse(gigID, providerID uuid.UUID) (models.GigResponse, bool) {
	for _, resp := range r.s.state().responses {
		if resp.GigID == gigID && resp.ProviderID == providerID {
			return resp, true
		}
	}
	return models.GigResponse{}, false
}

func (r memGigs) CreateInvitations(ctx context.Context, gigID uuid.UUID, providerIDs []uuid.UUID) (int, error) {
	defer r.s.lock()()
	st := r.s.state()
	created := 0
	for _, providerID := range providerIDs {
		if _, exists := r.findResponse(gigID, providerID); exists {
			continue
		}
		resp := models.GigResponse{
			ID:         uuid.New(),
			GigID:      gigID,
			ProviderID: providerID,
			Status:     valueobject.ResponseStatusPending,
			CreatedAt:  st.tick(),
		}
		st.responses[resp.ID] = resp
		created++
	}
	return created, nil
}

func (r memGigs) InsertResponse(ctx context.Context, resp *models.GigResponse) error {
	defer r.s.lock()()
	st := r.s.state()
	if gig, ok := st.gigs[resp.GigID]; !ok || gig.Status != valueobject.GigStatusOpen {
		return domainrepo.ErrNotFound
	}
	if _, exists := r.findResponse(resp.GigID, resp.ProviderID); exists {
		return domainrepo.ErrDuplicate
	}
	now := st.tick()
	resp.ID = uuid.New()
	resp.CreatedAt = now
	resp.RespondedAt = &now
	st.responses[resp.ID] = *resp
	return nil
}

func (r memGigs) DecideResponse(ctx context.Context, gigID, providerID uuid.UUID, status valueobject.ResponseStatus, message *string) (*models.GigResponse, error) {
	defer r.s.lock()()
	st := r.s.state()
	resp, ok := r.findResponse(gigID, providerID)
	if gig, open := st.gigs[gigID]; !ok || !open || gig.Status != valueobject.GigStatusOpen || resp.Status != valueobject.ResponseStatusPending {
		return nil, domainrepo.ErrNotFound
	}
	now := st.tick()
	resp.Status = status
	resp.Message = message
	resp.RespondedAt = &now
	st.responses[resp.ID] = resp
	return &resp, nil
}

func (r memGigs) GetResponse(ctx context.Context, id uuid.UUID) (*models.GigResponse, error) {
	defer r.s.lock()()
	resp, ok := r.s.state().responses[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &resp, nil
}

func (r memGigs) ListResponses(ctx context.Context, gigID uuid.UUID) ([]models.GigResponse, error) {
	defer r.s.lock()()
	var out []models.GigResponse
	for _, resp := range r.s.state().responses {
		if resp.GigID == gigID {
			out = append(out, resp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memGigs) ExpirePendingResponses(ctx context.Context, gigID uuid.UUID) (int64, error) {
	defer r.s.lock()()
	st := r.s.state()
	var n int64
	for id, resp := range st.responses {
		if resp.GigID == gigID && resp.Status == valueobject.ResponseStatusPending {
			resp.Status = valueobject.ResponseStatusExpired
			st.responses[id] = resp
			n++
		}
	}
	return n, nil
}

type memProviders struct{ s *memStore }

func (r memProviders) EligibleProviders(ctx context.Context, skill string, exclude uuid.UUID, limit int) ([]uuid.UUID, error) {
	defer r.s.lock()()
	var out []uuid.UUID
	for _, id := range r.s.state().skills[skill] {
		if id != exclude && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

type memProjects struct{ s *memStore }

func (r memProjects) Create(ctx context.Context, p *models.Project) error {
	defer r.s.lock()()
	st := r.s.state()
	for _, existing := range st.projects {
		if p.GigID != nil && existing.GigID != nil && *existing.GigID == *p.GigID {
			return domainrepo.ErrDuplicate
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = st.tick()
	p.UpdatedAt = p.CreatedAt
	st.projects[p.ID] = *p
	return nil
}

func (r memProjects) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	defer r.s.lock()()
	p, ok := r.s.state().projects[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &p, nil
}

func (r memProjects) GetByPaymentIntent(ctx context.Context, intentID string) (*models.Project, error) {
	defer r.s.lock()()
	for _, p := range r.s.state().projects {
		if p.PaymentIntentID != nil && *p.PaymentIntentID == intentID {
			return &p, nil
		}
	}
	return nil, domainrepo.ErrNotFound
}

func (r memProjects) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Project, error) {
	defer r.s.lock()()
	var out []models.Project
	for _, p := range r.s.state().projects {
		if p.IsParticipant(userID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memProjects) TransitionStatus(ctx context.Context, id uuid.UUID, to valueobject.ProjectStatus, from []valueobject.ProjectStatus) (bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	p, ok := st.projects[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			if to == valueobject.ProjectStatusCompleted && p.CompletedAt == nil {
				now := st.tick()
				p.CompletedAt = &now
			}
			st.projects[id] = p
			return true, nil
		}
	}
	return false, nil
}

func (r memProjects) SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string) (bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	p, ok := st.projects[id]
	if !ok || p.Status != valueobject.ProjectStatusPendingPayment {
		return false, nil
	}
	if p.PaymentIntentID != nil && *p.PaymentIntentID != intentID {
		return false, nil
	}
	p.PaymentIntentID = &intentID
	st.projects[id] = p
	return true, nil
}

func (r memProjects) ListStalePendingPayment(ctx context.Context, cutoff time.Time, limit int) ([]models.Project, error) {
	defer r.s.lock()()
	var out []models.Project
	for _, p := range r.s.state().projects {
		if p.Status == valueobject.ProjectStatusPendingPayment && p.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

type memDisputes struct{ s *memStore }

func (r memDisputes) Create(ctx context.Context, d *models.Dispute) error {
	defer r.s.lock()()
	st := r.s.state()
	for _, existing := range st.disputes {
		if existing.ProjectID == d.ProjectID && existing.Status.IsActive() {
			return domainrepo.ErrDuplicate
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = st.tick()
	st.disputes[d.ID] = *d
	return nil
}

func (r memDisputes) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	defer r.s.lock()()
	d, ok := r.s.state().disputes[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &d, nil
}

func (r memDisputes) GetLatestByProject(ctx context.Context, projectID uuid.UUID) (*models.Dispute, error) {
	defer r.s.lock()()
	var latest *models.Dispute
	for _, d := range r.s.state().disputes {
		if d.ProjectID == projectID && (latest == nil || d.CreatedAt.After(latest.CreatedAt)) {
			d := d
			latest = &d
		}
	}
	if latest == nil {
		return nil, domainrepo.ErrNotFound
	}
	return latest, nil
}

func (r memDisputes) HasResolved(ctx context.Context, projectID uuid.UUID) (bool, error) {
	defer r.s.lock()()
	for _, d := range r.s.state().disputes {
		if d.ProjectID == projectID && d.Status.IsResolved() {
			return true, nil
		}
	}
	return false, nil
}

func (r memDisputes) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	defer r.s.lock()()
	var out []models.Dispute
	for _, d := range r.s.state().disputes {
		if d.RaisedBy == userID || d.Against == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memDisputes) SetCounterResponse(ctx context.Context, id, responder uuid.UUID, text string, evidence []string) (bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	d, ok := st.disputes[id]
	if !ok || d.Against != responder || d.Status != valueobject.DisputeStatusOpen || d.CounterResponse != nil {
		return false, nil
	}
	d.CounterResponse = &text
	d.CounterEvidence = evidence
	d.Status = valueobject.DisputeStatusUnderReview
	st.disputes[id] = d
	return true, nil
}

func (r memDisputes) LockOutcome(ctx context.Context, id uuid.UUID, outcome valueobject.DisputeOutcome, splitPercent *int, notes *string) (bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	d, ok := st.disputes[id]
	if !ok || !d.Status.IsActive() {
		return false, nil
	}
	if d.PendingOutcome != nil {
		samePercent := (d.SplitPercent == nil && splitPercent == nil) ||
			(d.SplitPercent != nil && splitPercent != nil && *d.SplitPercent == *splitPercent)
		if *d.PendingOutcome != outcome || !samePercent {
			return false, nil
		}
	}
	d.PendingOutcome = &outcome
	d.SplitPercent = splitPercent
	if notes != nil {
		d.ResolutionNotes = notes
	}
	d.Status = valueobject.DisputeStatusUnderReview
	st.disputes[id] = d
	return true, nil
}

func (r memDisputes) Finalize(ctx context.Context, id uuid.UUID, status valueobject.DisputeStatus) (bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	d, ok := st.disputes[id]
	if !ok || d.Status != valueobject.DisputeStatusUnderReview {
		return false, nil
	}
	now := st.tick()
	d.Status = status
	d.ResolvedAt = &now
	st.disputes[id] = d
	return true, nil
}

func (r memDisputes) EnsureLeg(ctx context.Context, leg *models.DisputeLeg) (*models.DisputeLeg, error) {
	defer r.s.lock()()
	st := r.s.state()
	for _, existing := range st.legs {
		if existing.IdempotencyKey == leg.IdempotencyKey {
			return &existing, nil
		}
	}
	stored := *leg
	stored.ID = uuid.New()
	stored.Status = valueobject.LegStatusRequested
	stored.UpdatedAt = st.tick()
	st.legs[stored.ID] = stored
	return &stored, nil
}

func (r memDisputes) ListLegs(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeLeg, error) {
	defer r.s.lock()()
	var out []models.DisputeLeg
	for _, leg := range r.s.state().legs {
		if leg.DisputeID == disputeID {
			out = append(out, leg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (r memDisputes) UpdateLeg(ctx context.Context, legID uuid.UUID, status valueobject.LegStatus, externalID, errMsg *string) error {
	defer r.s.lock()()
	st := r.s.state()
	leg, ok := st.legs[legID]
	if !ok || leg.Status == valueobject.LegStatusAccepted {
		return nil
	}
	leg.Status = status
	if externalID != nil {
		leg.ExternalID = externalID
	}
	leg.Error = errMsg
	leg.Attempts++
	leg.UpdatedAt = st.tick()
	st.legs[legID] = leg
	return nil
}

type memPayouts struct{ s *memStore }

func (r memPayouts) Ensure(ctx context.Context, rec *models.PayoutRecord) (*models.PayoutRecord, bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	for _, existing := range st.payouts {
		if existing.IdempotencyKey == rec.IdempotencyKey {
			return &existing, false, nil
		}
	}
	stored := *rec
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.Status == "" {
		stored.Status = valueobject.PayoutStatusPending
	}
	stored.CreatedAt = st.tick()
	stored.UpdatedAt = stored.CreatedAt
	st.payouts[stored.ID] = stored
	return &stored, true, nil
}

func (r memPayouts) GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRecord, error) {
	defer r.s.lock()()
	rec, ok := r.s.state().payouts[id]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &rec, nil
}

func (r memPayouts) GetByExternalID(ctx context.Context, provider, externalID string) (*models.PayoutRecord, error) {
	defer r.s.lock()()
	for _, rec := range r.s.state().payouts {
		if rec.Provider == provider && rec.ReversalOf == nil &&
			rec.ExternalTransferID != nil && *rec.ExternalTransferID == externalID {
			return &rec, nil
		}
	}
	return nil, domainrepo.ErrNotFound
}

func (r memPayouts) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.PayoutRecord, error) {
	var out []models.PayoutRecord
	for _, rec := range r.s.payoutList() {
		if rec.ProjectID == projectID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r memPayouts) SetExternalID(ctx context.Context, id uuid.UUID, externalID string, raw json.RawMessage) (bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	rec, ok := st.payouts[id]
	if !ok || rec.ExternalTransferID != nil {
		return false, nil
	}
	rec.ExternalTransferID = &externalID
	st.payouts[id] = rec
	return true, nil
}

func (r memPayouts) TransitionStatus(ctx context.Context, id uuid.UUID, to valueobject.PayoutStatus, from []valueobject.PayoutStatus, errMsg *string, raw json.RawMessage) (bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	rec, ok := st.payouts[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if rec.Status == f {
			rec.Status = to
			if errMsg != nil {
				rec.ErrorMessage = errMsg
			}
			rec.UpdatedAt = st.tick()
			st.payouts[id] = rec
			return true, nil
		}
	}
	return false, nil
}

func (r memPayouts) ListUnsubmitted(ctx context.Context, olderThan time.Time, limit int) ([]models.PayoutRecord, error) {
	var out []models.PayoutRecord
	for _, rec := range r.s.payoutList() {
		if rec.Status == valueobject.PayoutStatusPending && rec.ExternalTransferID == nil && rec.ReversalOf == nil && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r memPayouts) ListInFlight(ctx context.Context, olderThan time.Time, limit int) ([]models.PayoutRecord, error) {
	var out []models.PayoutRecord
	for _, rec := range r.s.payoutList() {
		inFlight := rec.Status == valueobject.PayoutStatusPending || rec.Status == valueobject.PayoutStatusProcessing
		if inFlight && rec.ExternalTransferID != nil && rec.ReversalOf == nil && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memAccounts struct{ s *memStore }

func (r memAccounts) GetByUser(ctx context.Context, userID uuid.UUID) (*models.PayoutAccount, error) {
	defer r.s.lock()()
	acc, ok := r.s.state().accounts[userID]
	if !ok {
		return nil, domainrepo.ErrNotFound
	}
	return &acc, nil
}

type memLedger struct{ s *memStore }

func (r memLedger) Append(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	if entry.Reference != nil {
		for _, e := range st.ledger {
			if e.Kind == entry.Kind && e.Reference != nil && *e.Reference == *entry.Reference {
				return false, nil
			}
		}
	}
	stored := *entry
	stored.ID = uuid.New()
	stored.CreatedAt = st.tick()
	st.ledger = append(st.ledger, stored)
	return true, nil
}

func (r memLedger) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.LedgerEntry, error) {
	defer r.s.lock()()
	var out []models.LedgerEntry
	for _, e := range r.s.state().ledger {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memLedger) SumByKind(ctx context.Context, projectID uuid.UUID, kind valueobject.LedgerKind) (int64, error) {
	defer r.s.lock()()
	var sum int64
	for _, e := range r.s.state().ledger {
		if e.ProjectID == projectID && e.Kind == kind {
			sum += e.Amount
		}
	}
	return sum, nil
}

type memEvents struct{ s *memStore }

func (r memEvents) Begin(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	stored, ok := st.events[event.ID]
	if !ok {
		stored = *event
		stored.ReceivedAt = st.tick()
	}
	stored.Attempts++
	st.events[event.ID] = stored
	return stored.Processed, nil
}

func (r memEvents) MarkProcessed(ctx context.Context, id string) error {
	defer r.s.lock()()
	st := r.s.state()
	ev := st.events[id]
	ev.Processed = true
	ev.LastError = nil
	st.events[id] = ev
	return nil
}

func (r memEvents) RecordFailure(ctx context.Context, event *models.WebhookEvent, errMsg string) error {
	defer r.s.lock()()
	st := r.s.state()
	stored, ok := st.events[event.ID]
	if !ok {
		stored = *event
		stored.ReceivedAt = st.tick()
	}
	if stored.Processed {
		return nil
	}
	stored.Attempts++
	stored.LastError = &errMsg
	st.events[event.ID] = stored
	return nil
}

func (r memEvents) ListFailed(ctx context.Context, maxAttempts, limit int) ([]models.WebhookEvent, error) {
	defer r.s.lock()()
	var out []models.WebhookEvent
	for _, ev := range r.s.state().events {
		if !ev.Processed && ev.LastError != nil && ev.Attempts < maxAttempts && len(out) < limit {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

type memHolds struct{ s *memStore }

func (r memHolds) Schedule(ctx context.Context, rel *models.HoldRelease) error {
	defer r.s.lock()()
	st := r.s.state()
	if _, exists := st.holds[rel.IntentID]; exists {
		return nil
	}
	stored := *rel
	stored.CreatedAt = st.tick()
	stored.UpdatedAt = stored.CreatedAt
	st.holds[rel.IntentID] = stored
	return nil
}

func (r memHolds) MarkReleased(ctx context.Context, intentID string) error {
	defer r.s.lock()()
	st := r.s.state()
	rel, ok := st.holds[intentID]
	if !ok || rel.ReleasedAt != nil {
		return nil
	}
	now := st.tick()
	rel.ReleasedAt = &now
	rel.Attempts++
	rel.LastError = nil
	st.holds[intentID] = rel
	return nil
}

func (r memHolds) RecordFailure(ctx context.Context, intentID, errMsg string) error {
	defer r.s.lock()()
	st := r.s.state()
	rel, ok := st.holds[intentID]
	if !ok || rel.ReleasedAt != nil {
		return nil
	}
	rel.Attempts++
	rel.LastError = &errMsg
	st.holds[intentID] = rel
	return nil
}

func (r memHolds) ListPending(ctx context.Context, maxAttempts, limit int) ([]models.HoldRelease, error) {
	defer r.s.lock()()
	var out []models.HoldRelease
	for _, rel := range r.s.state().holds {
		if rel.ReleasedAt == nil && rel.Attempts < maxAttempts {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockEscrowGateway struct {
	mock.Mock
}

func (m *mockEscrowGateway) CreateHold(ctx context.Context, req escrow.HoldRequest) (*escrow.Intent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Intent), args.Error(1)
}

func (m *mockEscrowGateway) Capture(ctx context.Context, intentID, idempotencyKey string) (*escrow.Intent, error) {
	args := m.Called(ctx, intentID, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Intent), args.Error(1)
}

func (m *mockEscrowGateway) Cancel(ctx context.Context, intentID, idempotencyKey string) (*escrow.Intent, error) {
	args := m.Called(ctx, intentID, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Intent), args.Error(1)
}

func (m *mockEscrowGateway) Refund(ctx context.Context, req escrow.RefundRequest) (*escrow.Refund, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*escrow.Refund), args.Error(1)
}

type mockPayoutGateway struct {
	mock.Mock
}

func (m *mockPayoutGateway) CreateTransfer(ctx context.Context, req payout.TransferRequest) (*payout.Transfer, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payout.Transfer), args.Error(1)
}

func (m *mockPayoutGateway) GetTransfer(ctx context.Context, transferID string) (*payout.Transfer, error) {
	args := m.Called(ctx, transferID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payout.Transfer), args.Error(1)
}

// sentNotification - запись об отправленном уведомлении.
type sentNotification struct {
	UserID uuid.UUID
	Event  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(ctx context.Context, userID uuid.UUID, event string, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Event: event})
	return nil
}

func (n *recordingNotifier) events(userID uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.UserID == userID {
			out = append(out, s.Event)
		}
	}
	return out
}

const (
	testEscrowSecret = "whsec_test"
	testPayoutSecret = "payout_test"
)

// testEnv - сервисы поверх общего in-memory хранилища и моков шлюзов.
type testEnv struct {
	store      *memStore
	escrowGw   *mockEscrowGateway
	payoutGw   *mockPayoutGateway
	notifier   *recordingNotifier
	fees       valueobject.FeePolicy
	ledger     *LedgerService
	escrow     *EscrowService
	payouts    *PayoutService
	projects   *ProjectService
	gigs       *GigService
	holds      *HoldReleaser
	disputes   *DisputeService
	reconciler *WebhookReconciler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:    newMemStore(),
		escrowGw: new(mockEscrowGateway),
		payoutGw: new(mockPayoutGateway),
		notifier: &recordingNotifier{},
	}
	env.fees, _ = valueobject.NewFeePolicy(valueobject.DefaultPlatformFeeRate)
	env.ledger = NewLedgerService(env.store)
	env.holds = NewHoldReleaser(env.store, env.escrowGw)
	env.escrow = NewEscrowService(env.store, env.escrowGw, env.ledger, env.notifier)
	env.payouts = NewPayoutService(env.store, env.payoutGw, env.ledger)
	env.projects = NewProjectService(env.store, env.payouts, env.ledger)
	env.gigs = NewGigService(env.store, env.escrowGw, env.notifier, env.fees, "GBP")
	env.gigs.async = func(fn func()) { fn() }
	env.disputes = NewDisputeService(env.store, env.escrow, env.payouts, env.ledger, env.notifier, env.fees)
	env.reconciler = NewWebhookReconciler(env.store, env.escrow, env.payouts, env.ledger, WebhookSecrets{
		Escrow: testEscrowSecret,
		Payout: testPayoutSecret,
	})
	return env
}

// escrowedProject создаёт оплаченный проект на 100.00 GBP с комиссией 12%.
func (env *testEnv) escrowedProject() models.Project {
	fee, payoutAmount := env.fees.Split(10000)
	intent := "pi_" + uuid.NewString()[:8]
	return env.store.putProject(models.Project{
		PosterUserID:         uuid.New(),
		ProviderUserID:       uuid.New(),
		AgreedAmount:         10000,
		Currency:             "GBP",
		PlatformFeeAmount:    fee,
		ProviderPayoutAmount: payoutAmount,
		Status:               valueobject.ProjectStatusEscrowed,
		PaymentIntentID:      &intent,
	})
}
