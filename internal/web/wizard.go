package web

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/fleetctl/fleetctl/internal/auth"
	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/configstore"
	"github.com/fleetctl/fleetctl/internal/ferrors"
	"github.com/fleetctl/fleetctl/internal/mask"
	"github.com/fleetctl/fleetctl/internal/tasks"
	"github.com/fleetctl/fleetctl/internal/update"
	"github.com/fleetctl/fleetctl/internal/validate"
)

// WizardServer is the installation/reconfiguration controller: profile
// selection and validation, combined-resource preflight, reconfigure and
// update driving, backup/restore, and the token-scoped handoff endpoints
// that hand a launch context back to the dashboard controller.
type WizardServer struct {
	deps   Dependencies
	mux    *http.ServeMux
	server *http.Server
}

// NewWizardServer builds a WizardServer with all routes registered.
func NewWizardServer(deps Dependencies) *WizardServer {
	s := &WizardServer{deps: deps, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ListenAndServe starts the wizard HTTP server on addr. Once an operator
// password has been set, every route but the health check requires it via
// the X-Operator-Password header.
func (s *WizardServer) ListenAndServe(addr string) error {
	var handler http.Handler = s.mux
	if s.deps.Auth != nil {
		handler = s.deps.Auth.Middleware(handler, "/api/wizard/health")
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	s.deps.Log.Info("wizard controller listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the wizard HTTP server.
func (s *WizardServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *WizardServer) registerRoutes() {
	s.mux.HandleFunc("GET /api/profiles", s.apiProfiles)
	s.mux.HandleFunc("POST /api/profiles/validate-selection", s.apiValidateSelection)
	s.mux.HandleFunc("POST /api/resource-check/calculate-combined", s.apiValidateSelection)
	s.mux.HandleFunc("GET /api/wizard/current-config", s.apiCurrentConfig)
	s.mux.HandleFunc("POST /api/wizard/reconfigure", s.apiReconfigure)
	s.mux.HandleFunc("POST /api/wizard/rollback", s.apiRollback)
	s.mux.HandleFunc("GET /api/wizard/backups", s.apiListBackups)
	s.mux.HandleFunc("POST /api/wizard/backups", s.apiCreateBackup)
	s.mux.HandleFunc("GET /api/wizard/backups/{id}", s.apiGetBackup)
	s.mux.HandleFunc("DELETE /api/wizard/backups/{id}", s.apiDeleteBackup)
	s.mux.HandleFunc("POST /api/wizard/updates/apply", s.apiWizardUpdatesApply)
	s.mux.HandleFunc("GET /api/wizard/reconfigure-link", s.apiReconfigureLink)
	s.mux.HandleFunc("GET /api/wizard/update-link", s.apiUpdateLink)
	s.mux.HandleFunc("GET /api/wizard/token-data", s.apiTokenData)
	s.mux.HandleFunc("DELETE /api/wizard/token/{t}", s.apiTokenDelete)
	s.mux.HandleFunc("GET /api/wizard/health", s.apiWizardHealth)
	s.mux.HandleFunc("POST /api/wizard/operator-password", s.apiSetOperatorPassword)
	s.mux.HandleFunc("GET /api/wizard/state", s.apiGetWizardState)
	s.mux.HandleFunc("POST /api/wizard/state", s.apiPostWizardState)
}

// apiGetWizardState reports the persisted wizard-state document with its
// background-task records overlaid by the supervisor's live view, so a page
// reload mid-install resumes from current task progress rather than the
// last write.
func (s *WizardServer) apiGetWizardState(w http.ResponseWriter, r *http.Request) {
	state, err := configstore.ReadWizardState(s.deps.Config.WizardStatePath())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	state.BackgroundTasks = liveTaskRecords(s.deps.Tasks, state.BackgroundTasks)
	writeJSON(w, http.StatusOK, state)
}

// apiPostWizardState persists the operator's wizard position. Background
// tasks are snapshotted from the supervisor, never trusted from the client;
// sync operations merge by serviceId so a strategy choice recorded earlier
// isn't lost when a later step writes its own position.
func (s *WizardServer) apiPostWizardState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentStep    int                               `json:"currentStep"`
		Phase          string                            `json:"phase"`
		SyncOperations []configstore.SyncOperationRecord `json:"syncOperations"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	path := s.deps.Config.WizardStatePath()
	state, err := configstore.ReadWizardState(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	state.CurrentStep = req.CurrentStep
	state.Phase = req.Phase
	state.BackgroundTasks = liveTaskRecords(s.deps.Tasks, state.BackgroundTasks)
	for _, op := range req.SyncOperations {
		replaced := false
		for i, existing := range state.SyncOperations {
			if existing.ServiceID == op.ServiceID {
				state.SyncOperations[i] = op
				replaced = true
				break
			}
		}
		if !replaced {
			state.SyncOperations = append(state.SyncOperations, op)
		}
	}

	if err := configstore.WriteWizardState(path, state); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// liveTaskRecords snapshots the supervisor's current tasks, keeping any
// persisted terminal records for task IDs the supervisor no longer holds
// (cleaned up after their retention window) so history survives restarts.
func liveTaskRecords(sup *tasks.Supervisor, persisted []configstore.BackgroundTaskRecord) []configstore.BackgroundTaskRecord {
	live := sup.List(tasks.Filter{})
	known := make(map[string]bool, len(live))
	out := make([]configstore.BackgroundTaskRecord, 0, len(live)+len(persisted))
	for _, t := range live {
		known[t.ID] = true
		out = append(out, configstore.BackgroundTaskRecord{
			ID:        t.ID,
			Kind:      t.Kind,
			ServiceID: t.ServiceID,
			Status:    string(t.Status),
			Progress:  t.Progress,
			UpdatedAt: t.UpdatedAt,
		})
	}
	for _, rec := range persisted {
		if !known[rec.ID] && tasks.Status(rec.Status).Terminal() {
			out = append(out, rec)
		}
	}
	return out
}

// apiSetOperatorPassword sets or rotates the operator password gating the
// rest of the wizard API. The first call (during install) happens before
// any gate is configured, so it isn't itself password-protected; every
// later call already requires the current password via the gate
// middleware, which is what actually prevents an unauthenticated rotation.
func (s *WizardServer) apiSetOperatorPassword(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		writeError(w, http.StatusNotImplemented, "operator password gate is not configured")
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Auth.SetPassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := auth.SaveGate(s.deps.Config.OperatorPasswordHashPath(), s.deps.Auth); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "set"})
}

// apiProfiles lists the catalog's profiles, sorted by id for a stable
// listing order.
func (s *WizardServer) apiProfiles(w http.ResponseWriter, r *http.Request) {
	profiles := s.deps.Catalog.ListProfiles()
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ProfileID < profiles[j].ProfileID })
	writeJSON(w, http.StatusOK, profiles)
}

// apiValidateSelection runs DependencyValidator over the posted selection,
// sampling the live host for resource-availability warnings. Shared by
// both /api/profiles/validate-selection and the combined-resources
// preflight endpoint; the two requests carry identical inputs and outputs,
// so the wizard UI step that only wants combined resources and the step
// that wants full validation both land here.
func (s *WizardServer) apiValidateSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profiles []string `json:"profiles"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var host validate.HostConstraints
	if s.deps.HostSnapshot != nil {
		host = s.deps.HostSnapshot(r.Context())
	}
	result := validate.Validate(s.deps.Catalog, req.Profiles, host)
	writeJSON(w, http.StatusOK, result)
}

// apiCurrentConfig reports the live environment file (sensitive keys
// masked) plus the persisted installation state, for the wizard's
// "what's currently installed" step.
func (s *WizardServer) apiCurrentConfig(w http.ResponseWriter, r *http.Request) {
	env, err := configstore.ReadEnvFile(s.deps.Config.EnvFilePath())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	state, err := configstore.ReadInstallState(s.deps.Config.InstallStatePath())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	values := make(map[string]string, len(env.Keys()))
	for _, k := range env.Keys() {
		v, _ := env.Get(k)
		values[k] = mask.Value(k, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"env":           values,
		"installState":  state,
		"wizardVersion": s.deps.Config.WizardVersion,
	})
}

// apiReconfigure diffs the requested environment against the live one,
// optionally snapshots, rewrites, and restarts only the services whose
// declared config keys intersect the changed set. Services untouched by the
// change keep running.
func (s *WizardServer) apiReconfigure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config       map[string]string `json:"config"`
		Profiles     []string          `json:"profiles"`
		CreateBackup bool              `json:"createBackup"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	envPath := s.deps.Config.EnvFilePath()
	env, err := configstore.ReadEnvFile(envPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	diff := diffEnv(env, req.Config)

	var backupID string
	if req.CreateBackup {
		backupID, err = s.deps.Backups.Create("pre-reconfigure", nil)
		if err != nil {
			writeFerrorOr500(w, err)
			return
		}
	}

	changedKeys := make(map[string]struct{}, len(diff.Changes))
	for _, c := range diff.Changes {
		changedKeys[c.Key] = struct{}{}
	}
	var affected []catalog.ServiceDefinition
	seen := map[catalog.ServiceID]bool{}
	for _, profileID := range req.Profiles {
		p, ok := s.deps.Catalog.GetProfile(profileID)
		if !ok {
			continue
		}
		for key := range p.ConfigKeys {
			if _, touched := changedKeys[key]; !touched {
				continue
			}
			for _, sid := range p.Services {
				if seen[sid] {
					continue
				}
				if def, ok := s.deps.Catalog.GetService(sid); ok {
					seen[sid] = true
					affected = append(affected, def)
				}
			}
		}
	}

	ctx, cancel := detached(5 * time.Minute)
	defer cancel()
	if err := s.deps.Update.Reconfigure(ctx, env, envPath, req.Config, affected); err != nil {
		writeFerrorOr500(w, err)
		return
	}

	affectedIDs := make([]string, len(affected))
	for i, a := range affected {
		affectedIDs[i] = string(a.ServiceID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"diff":             diff,
		"affectedServices": affectedIDs,
		"backup":           backupID,
	})
}

// configDiffEntry is one key's change in a reconfigure diff.
type configDiffEntry struct {
	Key      string `json:"key"`
	Kind     string `json:"kind"` // Added, Removed, Modified
	OldValue string `json:"oldValue,omitempty"`
	NewValue string `json:"newValue,omitempty"`
}

type configDiff struct {
	Changes []configDiffEntry `json:"changes"`
}

// diffEnv compares the live env file against a requested key set, ordered
// by key. Removed keys aren't expressible through this
// endpoint's {config} shape (it only ever adds/modifies), so "Removed" is
// produced only when a caller's wizard step explicitly omits a previously
// owned key — left for Reconfigure's caller to decide, not computed here.
func diffEnv(env *configstore.EnvFile, requested map[string]string) configDiff {
	keys := make([]string, 0, len(requested))
	for k := range requested {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var d configDiff
	for _, k := range keys {
		newVal := requested[k]
		oldVal, existed := env.Get(k)
		switch {
		case !existed:
			d.Changes = append(d.Changes, configDiffEntry{Key: k, Kind: "Added", NewValue: newVal})
		case oldVal != newVal:
			d.Changes = append(d.Changes, configDiffEntry{Key: k, Kind: "Modified", OldValue: oldVal, NewValue: newVal})
		}
	}
	return d
}

// apiRollback restores a prior snapshot, optionally backing up current
// state first.
func (s *WizardServer) apiRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BackupID                 string `json:"backupId"`
		CreateBackupBeforeRestore bool  `json:"createBackupBeforeRestore"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	preRestoreID, err := s.deps.Backups.Restore(req.BackupID, req.CreateBackupBeforeRestore)
	if err != nil {
		writeFerrorOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored", "preRestoreBackup": preRestoreID})
}

func (s *WizardServer) apiListBackups(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	list, err := s.deps.Backups.List(limit)
	if err != nil {
		writeFerrorOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *WizardServer) apiCreateBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = decodeBody(w, r, &req)
	id, err := s.deps.Backups.Create(req.Reason, nil)
	if err != nil {
		writeFerrorOr500(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"snapshotId": id})
}

func (s *WizardServer) apiGetBackup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := s.deps.Backups.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "snapshot not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *WizardServer) apiDeleteBackup(w http.ResponseWriter, r *http.Request) {
	// BackupManager's retention policy is the only sanctioned deletion
	// path; an explicit single-snapshot delete isn't part
	// of its contract, so this forces retention to 0-beyond-newest-1
	// would be destructive — instead report the operation as unsupported
	// rather than improvising a deletion primitive BackupManager doesn't
	// expose.
	writeError(w, http.StatusNotImplemented, "individual snapshot deletion is governed by retention, not ad-hoc delete")
}

func (s *WizardServer) apiWizardUpdatesApply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates []struct {
			ServiceID     string `json:"serviceId"`
			TargetVersion string `json:"targetVersion"`
		} `json:"updates"`
		CreateBackup bool `json:"createBackup"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	targets := make([]update.Target, len(req.Updates))
	for i, u := range req.Updates {
		targets[i] = update.Target{ServiceID: catalog.ServiceID(u.ServiceID), TargetVersion: u.TargetVersion}
	}

	ctx, cancel := detached(30 * time.Minute)
	defer cancel()
	results, err := s.deps.Update.Run(ctx, targets, update.Flags{CreateBackup: req.CreateBackup})
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"results": results, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// apiReconfigureLink issues a handoff token of mode Reconfigure carrying no
// payload beyond the mode itself, and returns the URL a dashboard client
// follows to resume the wizard flow there.
func (s *WizardServer) apiReconfigureLink(w http.ResponseWriter, r *http.Request) {
	s.issueLink(w, "reconfigure", nil)
}

// apiUpdateLink issues a handoff token of mode Update, carrying the
// requested service/version pairs as its payload.
func (s *WizardServer) apiUpdateLink(w http.ResponseWriter, r *http.Request) {
	updates := r.URL.Query()["updates"]
	s.issueLink(w, "update", map[string]any{"updates": updates})
}

func (s *WizardServer) issueLink(w http.ResponseWriter, mode string, data map[string]any) {
	payload := map[string]any{"mode": mode, "data": data}
	token, err := s.deps.Tokens.Issue(payload, 15*time.Minute)
	if err != nil {
		writeFerrorOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "mode": mode})
}

// apiTokenData peeks a handoff token without consuming it, so the
// dashboard can render its post-handoff view and let the user reload
// before it expires.
func (s *WizardServer) apiTokenData(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token query parameter")
		return
	}
	payload, err := s.deps.Tokens.Peek(token)
	if err != nil {
		writeFerrorOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *WizardServer) apiTokenDelete(w http.ResponseWriter, r *http.Request) {
	s.deps.Tokens.Invalidate(r.PathValue("t"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (s *WizardServer) apiWizardHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.deps.Config.WizardVersion})
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, ferrors.New(ferrors.KindValidation, "not a number")
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
