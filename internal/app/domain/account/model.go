package account

import "time"

// Legal acceptance states. The status never regresses once completed.
const (
	StatusNotAccepted            = "not_accepted"
	StatusAcceptedPendingAccount = "accepted_pending_account"
	StatusCompleted              = "completed"
)

// Branch identifiers granted to every new account.
const (
	BranchDashboard          = "dashboard"
	BranchStrategyCoach      = "strategy_coach"
	BranchCasinoTransparency = "casino_transparency"
	BranchBetaTracking       = "beta_tracking"
)

// LegalVersion is stamped on every accepted legal record.
const LegalVersion = "1.0"

// DefaultBranchAccess returns the branch set granted at account creation.
func DefaultBranchAccess() []string {
	return []string{BranchDashboard, BranchStrategyCoach, BranchCasinoTransparency, BranchBetaTracking}
}

// Account is the registry entry for one subject.
type Account struct {
	SubjectID         string            `json:"subjectId"`
	AccountID         string            `json:"accountId"`
	Username          string            `json:"username"`
	WalletID          string            `json:"walletId"`
	ReferralCode      string            `json:"referralCode,omitempty"`
	LegalStatus       string            `json:"legalStatus"`
	BranchAccess      []string          `json:"branchAccess"`
	Preferences       map[string]string `json:"preferences,omitempty"`
	TrustScore        int               `json:"trustScore"`
	TotalSessions     int               `json:"totalSessions"`
	DiscordVerified   bool              `json:"discordVerified"`
	DiscordVerifiedAt time.Time         `json:"discordVerifiedAt,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	LastUpdated       time.Time         `json:"lastUpdated"`
	LastLogin         time.Time         `json:"lastLogin,omitempty"`
}

// Agreements holds the individual acceptance flags. All five are required for
// a complete acceptance.
type Agreements struct {
	Ecosystem bool `json:"ecosystem"`
	NFT       bool `json:"nft"`
	Privacy   bool `json:"privacy"`
	Analytics bool `json:"analytics"`
	Liability bool `json:"liability"`
}

// Complete reports whether every required agreement is accepted.
func (a Agreements) Complete() bool {
	return a.Ecosystem && a.NFT && a.Privacy && a.Analytics && a.Liability
}

// Missing lists the agreements still unaccepted, in a stable order.
func (a Agreements) Missing() []string {
	var missing []string
	if !a.Ecosystem {
		missing = append(missing, "ecosystem")
	}
	if !a.NFT {
		missing = append(missing, "nft")
	}
	if !a.Privacy {
		missing = append(missing, "privacy")
	}
	if !a.Analytics {
		missing = append(missing, "analytics")
	}
	if !a.Liability {
		missing = append(missing, "liability")
	}
	return missing
}

// LegalRecord captures one subject's accepted terms.
type LegalRecord struct {
	SubjectID        string     `json:"subjectId"`
	Agreements       Agreements `json:"agreements"`
	DigitalSignature string     `json:"digitalSignature"`
	AcceptedAt       time.Time  `json:"acceptedAt"`
	Version          string     `json:"version"`
}
