package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/tiltcheck/trust-layer/internal/app"
	"github.com/tiltcheck/trust-layer/internal/app/domain/account"
	"github.com/tiltcheck/trust-layer/internal/app/metrics"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/services/accounts"
	"github.com/tiltcheck/trust-layer/internal/middleware"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the trust layer REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	r := mux.NewRouter()

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/events", application.Events.HandleWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/legal/accept", h.acceptLegal).Methods(http.MethodPost)
	api.HandleFunc("/legal/status/{discordId}", h.legalStatus).Methods(http.MethodGet)

	api.HandleFunc("/account/create", h.createAccount).Methods(http.MethodPost)
	api.HandleFunc("/account/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/account/profile/{discordId}", h.profile).Methods(http.MethodGet)
	api.HandleFunc("/account/update", h.updateAccount).Methods(http.MethodPut)

	api.HandleFunc("/discord/verify", h.verifyDiscord).Methods(http.MethodPost)

	api.HandleFunc("/nft/mint-signature", h.mint).Methods(http.MethodPost)
	api.HandleFunc("/nft/requirements/{discordId}", h.requirements).Methods(http.MethodGet)

	api.HandleFunc("/trust-score/interaction", h.recordInteraction).Methods(http.MethodPost)
	api.HandleFunc("/trust-score/{userId}", h.trustScore).Methods(http.MethodGet)

	api.HandleFunc("/admin/verify-nft", h.verifyAdmin).Methods(http.MethodPost)

	api.HandleFunc("/analytics/track", h.track).Methods(http.MethodPost)
	api.HandleFunc("/analytics", h.analyticsSummary).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin(application.AdminAuth))
	admin.HandleFunc("/dashboard", h.adminDashboard).Methods(http.MethodGet)
	admin.HandleFunc("/analytics", h.adminAnalytics).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"timestamp":   time.Now().UTC(),
		"subscribers": h.app.Events.Subscribers(),
	})
}

// Legal ----------------------------------------------------------------------

func (h *handler) acceptLegal(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DiscordID        string             `json:"discordId"`
		Agreements       account.Agreements `json:"agreementsAccepted"`
		DigitalSignature string             `json:"digitalSignature"`
		Timestamp        time.Time          `json:"timestamp"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.app.Accounts.AcceptLegalTerms(r.Context(), payload.DiscordID, payload.Agreements, payload.DigitalSignature, payload.Timestamp)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "All legal agreements accepted",
		"acceptedAt": rec.AcceptedAt,
		"version":    rec.Version,
	})
}

func (h *handler) legalStatus(w http.ResponseWriter, r *http.Request) {
	discordID := mux.Vars(r)["discordId"]
	status, err := h.app.Accounts.LegalStatus(r.Context(), discordID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"discordId": discordID,
		"status":    status,
	})
}

// Accounts -------------------------------------------------------------------

func (h *handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DiscordID    string `json:"discordId"`
		Username     string `json:"username"`
		WalletID     string `json:"walletId"`
		ReferralCode string `json:"referralCode"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Accounts.Create(r.Context(), payload.DiscordID, payload.Username, payload.WalletID, payload.ReferralCode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DiscordID         string `json:"discordId"`
		WalletID          string `json:"walletId"`
		DeviceFingerprint string `json:"deviceFingerprint"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, sess, err := h.app.Accounts.Login(r.Context(), payload.DiscordID, payload.WalletID, payload.DeviceFingerprint)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	metrics.RecordSessionIssued()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"sessionToken": sess.Token,
		"expiresAt":    sess.ExpiresAt,
		"account":      acct,
	})
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Accounts.Get(r.Context(), mux.Vars(r)["discordId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DiscordID   string            `json:"discordId"`
		Username    string            `json:"username"`
		Preferences map[string]string `json:"preferences"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Accounts.Update(r.Context(), payload.DiscordID, accounts.UpdatePatch{
		Username:    payload.Username,
		Preferences: payload.Preferences,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) verifyDiscord(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DiscordID string `json:"discordId"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Accounts.VerifyDiscord(r.Context(), payload.DiscordID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"discordId":  acct.SubjectID,
		"verifiedAt": acct.DiscordVerifiedAt,
	})
}

// Ledger ---------------------------------------------------------------------

func (h *handler) mint(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DiscordID        string `json:"discordId"`
		ContractAccepted bool   `json:"contractAccepted"`
		Signature        string `json:"signature"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.app.Ledger.Mint(r.Context(), payload.DiscordID, payload.ContractAccepted, payload.Signature)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrConflict):
			metrics.RecordMint("conflict")
		default:
			metrics.RecordMint("rejected")
		}
		writeServiceError(w, err)
		return
	}
	metrics.RecordMint("ok")
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Trust token minted",
		"nft": map[string]interface{}{
			"tokenId":    rec.TokenID,
			"trustScore": rec.TrustScore,
			"mintedAt":   rec.MintedAt,
		},
	})
}

func (h *handler) requirements(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Ledger.CheckRequirements(r.Context(), mux.Vars(r)["discordId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) trustScore(w http.ResponseWriter, r *http.Request) {
	score, err := h.app.Ledger.TrustScore(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (h *handler) recordInteraction(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID          string  `json:"userId"`
		InteractionType string  `json:"interactionType"`
		Verified        bool    `json:"verified"`
		Value           float64 `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	interaction, err := h.app.Ledger.RecordInteraction(r.Context(), payload.UserID, payload.InteractionType, payload.Verified, payload.Value)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	metrics.RecordInteraction(interaction.Kind, interaction.Verified)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"interaction": interaction,
	})
}

// Admin ----------------------------------------------------------------------

func (h *handler) verifyAdmin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DiscordID  string `json:"discordId"`
		NFTTokenID string `json:"nftTokenId"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	grant, err := h.app.AdminAuth.VerifyNFT(r.Context(), payload.DiscordID, payload.NFTTokenID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (h *handler) adminDashboard(w http.ResponseWriter, r *http.Request) {
	identity := middleware.AdminFromContext(r.Context())

	accts, err := h.app.Accounts.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	records, err := h.app.Ledger.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	totalScore := 0
	for _, rec := range records {
		totalScore += rec.TrustScore
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"adminType":       identity.Role(),
		"totalAccounts":   len(accts),
		"mintedTokens":    len(records),
		"totalTrustScore": totalScore,
		"accounts":        accts,
	})
}

func (h *handler) adminAnalytics(w http.ResponseWriter, r *http.Request) {
	summary, err := h.app.Analytics.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	events, err := h.app.Analytics.Recent(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": summary,
		"events":  events,
	})
}

// Analytics ------------------------------------------------------------------

func (h *handler) track(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ev, err := h.app.Analytics.Track(r.Context(), raw)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"eventId": ev.ID,
	})
}

func (h *handler) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.app.Analytics.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Helpers --------------------------------------------------------------------

func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return 0
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": err.Error(),
	})
}

// writeServiceError maps the sentinel taxonomy to HTTP statuses. Conflicts
// report 400 to match the behavior clients already depend on.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, sentinel.ErrUnauthorized), errors.Is(err, sentinel.ErrExpired):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, sentinel.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, sentinel.ErrInvalid), errors.Is(err, sentinel.ErrConflict):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
