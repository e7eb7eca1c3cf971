package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tiernet.org/internal/audit"
	"tiernet.org/internal/network"
	"tiernet.org/internal/obs"
)

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// observe counts the outcome of op and reports whether it succeeded.
func (a *API) observe(w http.ResponseWriter, r *http.Request, op string, err error) bool {
	if err != nil {
		obs.ObserveOperation(op, network.CodeOf(err))
		a.writeNetworkError(w, r, op, err)
		return false
	}
	obs.ObserveOperation(op, "ok")
	return true
}

func (a *API) auditEvent(r *http.Request, event string, fields map[string]any) {
	if err := audit.LogEvent(r.Context(), event, fields); err != nil {
		a.logger.Warn("audit event dropped", zap.String("event", event), zap.Error(err))
	}
}

func (a *API) listTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := a.svc.Tiers(r.Context())
	if !a.observe(w, r, "list_tiers", err) {
		return
	}
	writeData(w, r, http.StatusOK, "tiers", listResponse[network.Tier]{Items: tiers})
}

func (a *API) upsertTier(w http.ResponseWriter, r *http.Request) {
	rank, err := strconv.Atoi(chi.URLParam(r, "rank"))
	if err != nil || rank < 1 {
		writeError(w, r, http.StatusBadRequest, network.ErrInvalidInput.Code, "rank must be a positive integer")
		return
	}
	var t network.Tier
	if err := decodeJSON(w, r, &t); err != nil {
		writeError(w, r, http.StatusBadRequest, network.ErrInvalidInput.Code, err.Error())
		return
	}
	if t.Rank != 0 && t.Rank != rank {
		writeError(w, r, http.StatusBadRequest, network.ErrInvalidInput.Code, "rank in body does not match path")
		return
	}
	t.Rank = rank

	saved, err := a.svc.UpsertTier(r.Context(), t)
	if !a.observe(w, r, "upsert_tier", err) {
		return
	}
	a.auditEvent(r, "tier.upsert", map[string]any{"tier_id": saved.ID, "rank": saved.Rank})
	writeData(w, r, http.StatusOK, "tier saved", saved)
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var in network.Registration
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, network.ErrInvalidInput.Code, err.Error())
		return
	}
	m, err := a.svc.Register(r.Context(), in)
	if !a.observe(w, r, "register", err) {
		return
	}
	a.auditEvent(r, "account.register", map[string]any{"account_id": m.Account.ID, "role": string(m.Account.Role)})
	writeData(w, r, http.StatusCreated, "account registered", m)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	m, err := a.svc.Member(r.Context(), caller(r))
	if !a.observe(w, r, "member", err) {
		return
	}
	writeData(w, r, http.StatusOK, "member", m)
}

func (a *API) downlines(w http.ResponseWriter, r *http.Request) {
	kids, err := a.svc.Downlines(r.Context(), caller(r))
	if !a.observe(w, r, "downlines", err) {
		return
	}
	if kids == nil {
		kids = []network.Profile{}
	}
	writeData(w, r, http.StatusOK, "members", listResponse[network.Profile]{Items: kids})
}

func (a *API) activate(w http.ResponseWriter, r *http.Request) {
	act, err := a.svc.Activate(r.Context(), caller(r))
	if !a.observe(w, r, "activate", err) {
		return
	}
	writeData(w, r, http.StatusOK, "upline assigned", act)
}

func (a *API) initiatePayment(w http.ResponseWriter, r *http.Request) {
	ref, err := a.svc.InitiatePayment(r.Context(), caller(r))
	if !a.observe(w, r, "initiate_payment", err) {
		return
	}
	writeData(w, r, http.StatusCreated, "payment initiated", ref)
}

func (a *API) approvePayment(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")
	res, err := a.svc.ApprovePayment(r.Context(), caller(r), entryID)
	if !a.observe(w, r, "approve_payment", err) {
		return
	}
	a.auditEvent(r, "payment.approve", map[string]any{"entry_id": entryID})
	writeData(w, r, http.StatusOK, "payment approved", res)
}

func (a *API) initiateSubscription(w http.ResponseWriter, r *http.Request) {
	ref, err := a.svc.InitiateSubscription(r.Context(), caller(r))
	if !a.observe(w, r, "initiate_subscription", err) {
		return
	}
	writeData(w, r, http.StatusCreated, "subscription payment initiated", ref)
}

func (a *API) approveSubscription(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")
	res, err := a.svc.ApproveSubscription(r.Context(), caller(r), entryID)
	if !a.observe(w, r, "approve_subscription", err) {
		return
	}
	a.auditEvent(r, "subscription.approve", map[string]any{"entry_id": entryID})
	writeData(w, r, http.StatusOK, "subscription approved", res)
}

func (a *API) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := network.EntryFilter{Status: network.EntryStatus(strings.TrimSpace(q.Get("status")))}
	switch f.Status {
	case "", network.StatusPending, network.StatusSuccess, network.StatusFailure:
	default:
		writeError(w, r, http.StatusBadRequest, network.ErrInvalidInput.Code, "status must be pending, success or failure")
		return
	}
	for _, reason := range q["reason"] {
		if reason = strings.TrimSpace(reason); reason != "" {
			f.Reasons = append(f.Reasons, network.Reason(reason))
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, network.ErrInvalidInput.Code, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	entries, err := a.svc.Entries(r.Context(), caller(r), f)
	if !a.observe(w, r, "list_entries", err) {
		return
	}
	if entries == nil {
		entries = []network.Entry{}
	}
	writeData(w, r, http.StatusOK, "entries", listResponse[network.Entry]{Items: entries})
}

func (a *API) getEntry(w http.ResponseWriter, r *http.Request) {
	e, err := a.svc.Entry(r.Context(), caller(r), chi.URLParam(r, "entryID"))
	if !a.observe(w, r, "entry", err) {
		return
	}
	writeData(w, r, http.StatusOK, "entry", e)
}

func (a *API) wallet(w http.ResponseWriter, r *http.Request) {
	wal, err := a.svc.Wallet(r.Context(), caller(r))
	if !a.observe(w, r, "wallet", err) {
		return
	}
	writeData(w, r, http.StatusOK, "wallet", wal)
}

func (a *API) updatePayout(w http.ResponseWriter, r *http.Request) {
	var p network.Payout
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, r, http.StatusBadRequest, network.ErrInvalidInput.Code, err.Error())
		return
	}
	wal, err := a.svc.UpdatePayout(r.Context(), caller(r), p)
	if !a.observe(w, r, "update_payout", err) {
		return
	}
	a.auditEvent(r, "wallet.payout_update", map[string]any{"bank_name": wal.Payout.BankName})
	writeData(w, r, http.StatusOK, "payout details updated", wal)
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, network.ErrInvalidInput.Code, "limit must be a positive integer")
			return
		}
		limit = n
	}
	items, err := a.svc.Notifications(r.Context(), caller(r), limit)
	if !a.observe(w, r, "notifications", err) {
		return
	}
	if items == nil {
		items = []network.Notification{}
	}
	writeData(w, r, http.StatusOK, "notifications", listResponse[network.Notification]{Items: items})
}

func (a *API) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	err := a.svc.MarkNotificationRead(r.Context(), caller(r), chi.URLParam(r, "id"))
	if !a.observe(w, r, "mark_notification_read", err) {
		return
	}
	writeData(w, r, http.StatusOK, "notification marked read", nil)
}

func (a *API) sweep(w http.ResponseWriter, r *http.Request) {
	kind, err := network.ParseSweepKind(chi.URLParam(r, "kind"))
	if err != nil {
		a.writeNetworkError(w, r, "sweep", err)
		return
	}
	rep, err := a.svc.Sweep(r.Context(), kind)
	if !a.observe(w, r, "sweep", err) {
		return
	}
	obs.ObserveSweep(string(kind), rep.Finished.Sub(rep.Started), rep.Counts())
	fields := map[string]any{"kind": string(kind)}
	for outcome, n := range rep.Counts() {
		fields[outcome] = n
	}
	a.auditEvent(r, "sweep.run", fields)
	writeData(w, r, http.StatusOK, "sweep finished", rep)
}
