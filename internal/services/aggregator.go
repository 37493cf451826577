package services

import "github.com/osvaldoandrade/qrbot/pkg/domain"

// Summarize folds per-destination outcomes, already in caller order, into a
// summary. It is pure.
func Summarize(outcomes []domain.DeliveryOutcome) domain.BroadcastSummary {
	s := domain.BroadcastSummary{
		TotalCount:     len(outcomes),
		PerDestination: make([]domain.DestinationResult, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		if o.Succeeded() {
			s.SuccessCount++
		} else {
			s.FailedCount++
		}
		s.PerDestination = append(s.PerDestination, domain.DestinationResult{Channel: o.Reference.Raw, DeliveryOutcome: o})
	}
	return s
}
