package models

// Провайдеры платёжных рельс
const (
	ProviderEscrow = "escrow"
	ProviderPayout = "payout"
)

// События уведомлений
const (
	EventGigBroadcast        = "gig.broadcast"
	EventGigProviderSelected = "gig.provider_selected"
	EventProjectEscrowed     = "project.escrowed"
	EventDisputeRaised       = "dispute.raised"
	EventDisputeResolved     = "dispute.resolved"
)

// Типы событий эскроу-провайдера
const (
	EscrowEventPaymentSucceeded = "payment_intent.succeeded"
	EscrowEventPaymentFailed    = "payment_intent.payment_failed"
	EscrowEventPaymentCanceled  = "payment_intent.canceled"
	EscrowEventChargeRefunded   = "charge.refunded"
)

// Типы событий провайдера выплат
const (
	PayoutEventStateChange = "transfers#state-change"
	PayoutEventActiveCases = "transfers#active-cases"
)
