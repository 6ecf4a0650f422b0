package domain

import "context"

// ContextScoreProvider is the external AI context-analysis dependency. The
// score is in [0,1] with 1.0 = feedback clearly grounded in a real visit.
// Calls must carry a timeout; failures surface as ErrExternalDependency and
// trigger the orchestrator's documented degradation, never a silent zero.
type ContextScoreProvider interface {
	GetContextScore(ctx context.Context, feedbackText string, meta TransactionMeta) (float64, error)
}

// BehavioralScoreProvider is the external customer-history analysis
// dependency. The score is in [0,1] with 1.0 = no suspicious behavioral
// pattern. Same contract shape as ContextScoreProvider.
type BehavioralScoreProvider interface {
	GetBehavioralScore(ctx context.Context, businessID string, customerID string) (float64, error)
}
