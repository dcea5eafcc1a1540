package events

// Topic constants for domain events emitted by the point of sale.
const (
	TopicSaleCommitted      = "sale.committed"
	TopicDebtOpened         = "debt.opened"
	TopicDebtPaymentApplied = "debt.payment_applied"
	TopicDebtStatusChanged  = "debt.status_changed"
)

// DefaultTopics returns every topic the core emits.
func DefaultTopics() []string {
	return []string{
		TopicSaleCommitted,
		TopicDebtOpened,
		TopicDebtPaymentApplied,
		TopicDebtStatusChanged,
	}
}
