package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/purrsong-bridge/internal/account"
	"github.com/nerrad567/purrsong-bridge/internal/coordinator"
	"github.com/nerrad567/purrsong-bridge/internal/projection"
	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

// AccountView is an entry plus the live state of its coordinator.
type AccountView struct {
	account.Entry
	Loaded         bool                 `json:"loaded"`
	Devices        int                  `json:"devices"`
	PollInterval   string               `json:"poll_interval,omitempty"`
	AwaitingReauth bool                 `json:"awaiting_reauth"`
	LastSuccess    time.Time            `json:"last_success,omitzero"`
	Failure        *coordinator.Failure `json:"failure,omitempty"`
	Stats          *coordinator.Stats   `json:"stats,omitempty"`
}

// SnapshotView is the current snapshot of one account.
type SnapshotView struct {
	EntryID   string        `json:"entry_id"`
	FetchedAt time.Time     `json:"fetched_at"`
	Devices   int           `json:"devices"`
	Data      snapshot.Data `json:"data"`
}

// EntityView is one projected entity and its current value.
type EntityView struct {
	UniqueID    string              `json:"unique_id"`
	Key         string              `json:"key"`
	Name        string              `json:"name"`
	Platform    projection.Platform `json:"platform"`
	Kind        snapshot.Kind       `json:"kind"`
	DeviceID    string              `json:"device_id"`
	DeviceClass string              `json:"device_class,omitempty"`
	StateClass  string              `json:"state_class,omitempty"`
	Unit        string              `json:"unit,omitempty"`
	Category    projection.Category `json:"entity_category,omitempty"`
	Icon        string              `json:"icon,omitempty"`
	DynamicIcon bool                `json:"dynamic_icon,omitempty"`
	Available   bool                `json:"available"`
	State       any                 `json:"state"`

	// UpdateAvailable is set for update entities only.
	UpdateAvailable *bool `json:"update_available,omitempty"`
}

// accountSetupTimeout bounds the first refresh of a newly added account.
const accountSetupTimeout = time.Minute

// credentialsRequest is the body of POST /accounts and /accounts/{id}/reauth.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) viewOf(e account.Entry) AccountView {
	v := AccountView{Entry: e}
	c, ok := s.host.Coordinator(e.ID)
	if !ok {
		return v
	}
	v.Loaded = true
	v.PollInterval = c.Interval().String()
	v.AwaitingReauth = c.AwaitingReauth()
	if snap, err := c.Current(); err == nil {
		v.Devices = snap.DeviceCount()
	}
	if f, ok := c.LastFailure(); ok {
		v.Failure = &f
	}
	stats := c.Stats()
	v.LastSuccess = stats.LastSuccess
	v.Stats = &stats
	return v
}

// handleListAccounts returns every configured entry.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	entries, err := s.accounts.List(r.Context())
	if err != nil {
		s.logger.Error("listing accounts", "error", err)
		writeInternalError(w, "failed to list accounts")
		return
	}

	views := make([]AccountView, 0, len(entries))
	for _, e := range entries {
		views = append(views, s.viewOf(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": views,
		"count":    len(views),
	})
}

// handleGetAccount returns one entry.
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.accounts.Get(r.Context(), id)
	if errors.Is(err, account.ErrNotFound) {
		writeNotFound(w, "account not found")
		return
	}
	if err != nil {
		s.logger.Error("getting account", "entry_id", id, "error", err)
		writeInternalError(w, "failed to get account")
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(*e))
}

// coordinatorFor resolves a loaded account's coordinator or writes the error.
func (s *Server) coordinatorFor(w http.ResponseWriter, id string) (*coordinator.Coordinator, bool) {
	c, ok := s.host.Coordinator(id)
	if !ok {
		writeNotFound(w, "account not loaded")
		return nil, false
	}
	return c, true
}

// handleGetSnapshot returns the account's currently accepted snapshot.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := s.coordinatorFor(w, id)
	if !ok {
		return
	}

	snap, err := c.Current()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no snapshot available yet")
		return
	}
	writeJSON(w, http.StatusOK, SnapshotView{
		EntryID:   id,
		FetchedAt: snap.FetchedAt(),
		Devices:   snap.DeviceCount(),
		Data:      snap.Data(),
	})
}

// handleListEntities returns every entity of the account with its value.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	c, ok := s.coordinatorFor(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	entities, err := projection.Build(c)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no snapshot available yet")
		return
	}

	views := make([]EntityView, 0, len(entities))
	for _, e := range entities {
		d := e.Descriptor
		state, available := e.State()
		view := EntityView{
			UniqueID:    e.UniqueID(),
			Key:         d.Key,
			Name:        d.Name,
			Platform:    d.Platform,
			Kind:        d.Kind,
			DeviceID:    e.DeviceID,
			DeviceClass: d.DeviceClass,
			StateClass:  d.StateClass,
			Unit:        d.Unit,
			Category:    d.Category,
			Icon:        e.Icon(),
			DynamicIcon: d.StateDependentIcon(),
			Available:   available,
			State:       state,
		}
		if u, ok := state.(projection.UpdateState); ok {
			pending := u.Available()
			view.UpdateAvailable = &pending
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": views,
		"count":    len(views),
	})
}

// handleCreateAccount validates credentials, stores the entry and sets it up.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	e, err := s.flow.Create(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeFlowError(w, err)
		return
	}

	// Setup outlives the request: a client that hangs up mid-setup must not
	// leave the stored entry in setup_retry.
	setupCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), accountSetupTimeout)
	defer cancel()
	if err := s.host.Setup(setupCtx, e.ID); err != nil {
		// The entry is stored; the host retries or waits for re-auth.
		s.logger.Warn("account setup failed", "entry_id", e.ID, "error", err)
	}
	if stored, err := s.accounts.Get(r.Context(), e.ID); err == nil {
		e = stored
	}

	s.logger.Info("account added", "entry_id", e.ID, "by", subjectOf(r))
	writeJSON(w, http.StatusCreated, s.viewOf(*e))
}

// handleReauthAccount replaces an entry's credentials.
func (s *Server) handleReauthAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	e, err := s.flow.Reauthenticate(r.Context(), id, req.Email, req.Password)
	if err != nil && e == nil {
		s.writeFlowError(w, err)
		return
	}
	if err != nil {
		// Stored, but the running instance has not recovered yet.
		s.logger.Warn("applying new credentials", "entry_id", id, "error", err)
	}
	if stored, getErr := s.accounts.Get(r.Context(), id); getErr == nil {
		e = stored
	}

	s.logger.Info("account re-authenticated", "entry_id", id, "by", subjectOf(r))
	writeJSON(w, http.StatusOK, s.viewOf(*e))
}

// handleRefreshAccount runs an out-of-schedule refresh.
func (s *Server) handleRefreshAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := s.coordinatorFor(w, id)
	if !ok {
		return
	}

	snap, err := c.Refresh(r.Context())
	switch {
	case errors.Is(err, coordinator.ErrRefreshInProgress):
		writeConflict(w, "a refresh is already in progress")
		return
	case errors.Is(err, coordinator.ErrClosed):
		writeNotFound(w, "account not loaded")
		return
	case errors.Is(err, coordinator.ErrAuthFailed):
		writeError(w, http.StatusBadGateway, account.KeyInvalidAuth, "credentials were rejected; re-authenticate the account")
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entry_id":   id,
		"fetched_at": snap.FetchedAt(),
		"devices":    snap.DeviceCount(),
	})
}

// handleDeleteAccount unloads and deletes an entry.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.host.Remove(r.Context(), id)
	if errors.Is(err, account.ErrNotFound) {
		writeNotFound(w, "account not found")
		return
	}
	if err != nil {
		s.logger.Error("removing account", "entry_id", id, "error", err)
		writeInternalError(w, "failed to remove account")
		return
	}

	s.logger.Info("account removed", "entry_id", id, "by", subjectOf(r))
	w.WriteHeader(http.StatusNoContent)
}

// writeFlowError maps account flow errors to responses. Validation failures
// carry the flow's form key as the error code.
func (s *Server) writeFlowError(w http.ResponseWriter, err error) {
	switch key := account.ErrorKey(err); {
	case errors.Is(err, account.ErrNotFound):
		writeNotFound(w, "account not found")
	case errors.Is(err, account.ErrInvalidEntry):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case key == account.KeyAlreadyConfigured:
		writeError(w, http.StatusConflict, key, "account is already configured")
	case key == account.KeyInvalidAuth, key == account.KeyNoDevices:
		writeError(w, http.StatusBadRequest, key, err.Error())
	case key == account.KeyCannotConnect:
		writeError(w, http.StatusBadGateway, key, err.Error())
	default:
		s.logger.Error("account flow failed", "error", err)
		writeError(w, http.StatusInternalServerError, account.KeyUnknown, "unexpected error")
	}
}

func subjectOf(r *http.Request) string {
	if c, ok := claimsFrom(r.Context()); ok {
		return c.Subject
	}
	return ""
}
