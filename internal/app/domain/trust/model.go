package trust

import "time"

// Baseline scores assigned at mint time.
const (
	BaselineScore = 100
	OwnerScore    = 1000
)

// AdminThreshold is the minimum trust score for trusted-admin access.
const AdminThreshold = 500

// Event kinds recorded in a verification footprint.
const (
	KindDiscordVerification = "discord_verification"
	KindLegalAgreement      = "legal_agreement"
	KindAccountCreated      = "account_created"
	KindSignatureContract   = "signature_contract"
	KindOwnerVerification   = "owner_verification"
)

// Interaction kinds with fixed score contributions.
const (
	KindCasinoVerification = "casino_verification"
	KindStrategyFeedback   = "strategy_feedback"
	KindCommunityHelp      = "community_help"
	KindAccuratePrediction = "accurate_prediction"
	KindMoneySavedReport   = "money_saved_report"
	KindBetaFeedback       = "beta_feedback"
)

// DefaultInteractionScore is awarded for verified interactions of a kind not
// present in the score table.
const DefaultInteractionScore = 5

// DefaultScoreTable maps interaction kinds to their verified score deltas.
func DefaultScoreTable() map[string]int {
	return map[string]int{
		KindCasinoVerification: 15,
		KindStrategyFeedback:   10,
		KindCommunityHelp:      5,
		KindAccuratePrediction: 20,
		KindMoneySavedReport:   25,
		KindBetaFeedback:       8,
	}
}

// VerificationEvent is one immutable entry of a footprint. ScoreDelta is zero
// for unverified events.
type VerificationEvent struct {
	Kind       string    `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	Verified   bool      `json:"verified"`
	ScoreDelta int       `json:"scoreDelta"`
}

// Record is the per-subject trust ledger entry. Records are never deleted and
// the footprint is append-only.
type Record struct {
	SubjectID   string              `json:"subjectId"`
	TokenID     string              `json:"tokenId"`
	TrustScore  int                 `json:"trustScore"`
	OwnerRights bool                `json:"ownerRights"`
	Footprint   []VerificationEvent `json:"footprint"`
	MintedAt    time.Time           `json:"mintedAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}
