package valueobject

import "github.com/ignatzorin/gig-escrow/internal/pkg/apperror"

type GigStatus string

const (
	GigStatusOpen      GigStatus = "open"
	GigStatusFilled    GigStatus = "filled"
	GigStatusExpired   GigStatus = "expired"
	GigStatusCancelled GigStatus = "cancelled"
)

func (s GigStatus) IsTerminal() bool {
	return s == GigStatusFilled || s == GigStatusExpired || s == GigStatusCancelled
}

type ResponseStatus string

const (
	ResponseStatusPending  ResponseStatus = "pending"
	ResponseStatusAccepted ResponseStatus = "accepted"
	ResponseStatusDeclined ResponseStatus = "declined"
	ResponseStatusExpired  ResponseStatus = "expired"
)

// NewResponseDecision проверяет решение исполнителя по гигу.
func NewResponseDecision(decision string) (ResponseStatus, error) {
	s := ResponseStatus(decision)
	if s != ResponseStatusAccepted && s != ResponseStatusDeclined {
		return "", apperror.New(apperror.ErrCodeValidation, "решение должно быть accepted или declined")
	}
	return s, nil
}

type ProjectStatus string

const (
	ProjectStatusPendingPayment ProjectStatus = "pending_payment"
	ProjectStatusEscrowed       ProjectStatus = "escrowed"
	ProjectStatusDisputed       ProjectStatus = "disputed"
	ProjectStatusCompleted      ProjectStatus = "completed"
	ProjectStatusRefunded       ProjectStatus = "refunded"
	ProjectStatusCancelled      ProjectStatus = "cancelled"
)

// projectPredecessors - частичный порядок: из каких статусов разрешён переход в ключевой.
var projectPredecessors = map[ProjectStatus][]ProjectStatus{
	ProjectStatusEscrowed:  {ProjectStatusPendingPayment},
	ProjectStatusCancelled: {ProjectStatusPendingPayment},
	ProjectStatusDisputed:  {ProjectStatusEscrowed},
	ProjectStatusCompleted: {ProjectStatusEscrowed, ProjectStatusDisputed},
	// Возврат возможен и после выплаты (chargeback по карте).
	ProjectStatusRefunded: {ProjectStatusEscrowed, ProjectStatusDisputed, ProjectStatusCompleted},
}

func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectStatusPendingPayment, ProjectStatusEscrowed, ProjectStatusDisputed,
		ProjectStatusCompleted, ProjectStatusRefunded, ProjectStatusCancelled:
		return true
	}
	return false
}

// Predecessors возвращает статусы, из которых можно перейти в s.
func (s ProjectStatus) Predecessors() []ProjectStatus {
	return projectPredecessors[s]
}

func (s ProjectStatus) CanTransitionTo(newStatus ProjectStatus) bool {
	for _, from := range projectPredecessors[newStatus] {
		if from == s {
			return true
		}
	}
	return false
}

type DisputeStatus string

const (
	DisputeStatusOpen            DisputeStatus = "open"
	DisputeStatusUnderReview     DisputeStatus = "under_review"
	DisputeStatusResolvedRefund  DisputeStatus = "resolved_refund"
	DisputeStatusResolvedRelease DisputeStatus = "resolved_release"
	DisputeStatusResolvedSplit   DisputeStatus = "resolved_split"
)

func (s DisputeStatus) IsResolved() bool {
	switch s {
	case DisputeStatusResolvedRefund, DisputeStatusResolvedRelease, DisputeStatusResolvedSplit:
		return true
	}
	return false
}

func (s DisputeStatus) IsActive() bool {
	return s == DisputeStatusOpen || s == DisputeStatusUnderReview
}

type DisputeOutcome string

const (
	DisputeOutcomeRefund  DisputeOutcome = "refund"
	DisputeOutcomeRelease DisputeOutcome = "release"
	DisputeOutcomeSplit   DisputeOutcome = "split"
)

func NewDisputeOutcome(outcome string) (DisputeOutcome, error) {
	o := DisputeOutcome(outcome)
	switch o {
	case DisputeOutcomeRefund, DisputeOutcomeRelease, DisputeOutcomeSplit:
		return o, nil
	}
	return "", apperror.New(apperror.ErrCodeValidation, "некорректный исход спора")
}

// ResolvedStatus - итоговый статус спора для исхода.
func (o DisputeOutcome) ResolvedStatus() DisputeStatus {
	switch o {
	case DisputeOutcomeRefund:
		return DisputeStatusResolvedRefund
	case DisputeOutcomeRelease:
		return DisputeStatusResolvedRelease
	default:
		return DisputeStatusResolvedSplit
	}
}

// ProjectStatus - итоговый статус проекта для исхода. Сплит считается завершённой сделкой.
func (o DisputeOutcome) ProjectStatus() ProjectStatus {
	if o == DisputeOutcomeRefund {
		return ProjectStatusRefunded
	}
	return ProjectStatusCompleted
}

type LegKind string

const (
	LegKindRefund LegKind = "refund"
	LegKindPayout LegKind = "payout"
)

type LegStatus string

const (
	LegStatusRequested LegStatus = "requested"
	LegStatusAccepted  LegStatus = "accepted"
	LegStatusFailed    LegStatus = "failed"
)

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
	PayoutStatusRefunded   PayoutStatus = "refunded"
)

var payoutPredecessors = map[PayoutStatus][]PayoutStatus{
	PayoutStatusProcessing: {PayoutStatusPending},
	PayoutStatusCompleted:  {PayoutStatusPending, PayoutStatusProcessing},
	PayoutStatusFailed:     {PayoutStatusPending, PayoutStatusProcessing, PayoutStatusCompleted},
	PayoutStatusCancelled:  {PayoutStatusPending, PayoutStatusProcessing},
	PayoutStatusRefunded:   {PayoutStatusCompleted},
}

func (s PayoutStatus) Predecessors() []PayoutStatus {
	return payoutPredecessors[s]
}

func (s PayoutStatus) CanTransitionTo(newStatus PayoutStatus) bool {
	for _, from := range payoutPredecessors[newStatus] {
		if from == s {
			return true
		}
	}
	return false
}

// IsRegression - уже выплаченный перевод откатывается (bounce, chargeback).
// Такие переходы не перезаписывают историю, а добавляют новую запись.
func (s PayoutStatus) IsRegression(newStatus PayoutStatus) bool {
	return s == PayoutStatusCompleted && (newStatus == PayoutStatusFailed || newStatus == PayoutStatusRefunded)
}

func (s PayoutStatus) IsTerminal() bool {
	switch s {
	case PayoutStatusFailed, PayoutStatusCancelled, PayoutStatusRefunded:
		return true
	}
	return false
}

// transferStates - фиксированная таблица состояний платёжного провайдера.
var transferStates = map[string]PayoutStatus{
	"incoming_payment_waiting": PayoutStatusProcessing,
	"processing":               PayoutStatusProcessing,
	"outgoing_payment_sent":    PayoutStatusCompleted,
	"bounced_back":             PayoutStatusFailed,
	"funds_refunded":           PayoutStatusFailed,
	"charged_back":             PayoutStatusRefunded,
	"cancelled":                PayoutStatusCancelled,
}

// PayoutStatusFromTransferState переводит состояние перевода провайдера во внутренний статус.
// Неизвестные состояния считаются processing: провайдеры регулярно добавляют новые.
func PayoutStatusFromTransferState(state string) (PayoutStatus, bool) {
	status, ok := transferStates[state]
	if !ok {
		return PayoutStatusProcessing, false
	}
	return status, true
}

type LedgerKind string

const (
	LedgerKindEscrowHold     LedgerKind = "escrow_hold"
	LedgerKindEscrowRefund   LedgerKind = "escrow_refund"
	LedgerKindPlatformFee    LedgerKind = "platform_fee"
	LedgerKindPayoutAccrual  LedgerKind = "payout_accrual"
	LedgerKindPayoutReversal LedgerKind = "payout_reversal"
)
