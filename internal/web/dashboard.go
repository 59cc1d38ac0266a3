package web

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/events"
	"github.com/fleetctl/fleetctl/internal/ferrors"
	"github.com/fleetctl/fleetctl/internal/monitor"
	"github.com/fleetctl/fleetctl/internal/update"
	"github.com/fleetctl/fleetctl/internal/updatequeue"
	"github.com/fleetctl/fleetctl/internal/webhook"
)

// Server is the dashboard controller: fleet status, service lifecycle
// actions, live config, and update application for day-to-day operation.
type Server struct {
	deps   Dependencies
	mux    *http.ServeMux
	server *http.Server
}

// NewServer builds a dashboard Server with all routes registered.
func NewServer(deps Dependencies) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ListenAndServe starts the dashboard HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived.
		IdleTimeout:  120 * time.Second,
	}
	s.deps.Log.Info("dashboard controller listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the dashboard HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	if s.deps.Config.MetricsEnabled {
		s.mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
			promhttp.Handler().ServeHTTP(w, r)
		})
	}

	s.mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(s.deps, w, r)
	})

	s.mux.HandleFunc("GET /api/status", s.apiStatus)
	s.mux.HandleFunc("GET /api/resources", s.apiResources)
	s.mux.HandleFunc("GET /api/resources/history", s.apiResourcesHistory)
	s.mux.HandleFunc("POST /api/services/{id}/start", s.apiServiceStart)
	s.mux.HandleFunc("POST /api/services/{id}/stop", s.apiServiceStop)
	s.mux.HandleFunc("POST /api/services/{id}/restart", s.apiServiceRestart)
	s.mux.HandleFunc("GET /api/services/{id}/logs", s.apiServiceLogs)
	s.mux.HandleFunc("GET /api/config", s.apiGetConfig)
	s.mux.HandleFunc("POST /api/config", s.apiPostConfig)
	s.mux.HandleFunc("GET /api/updates/available", s.apiUpdatesAvailable)
	s.mux.HandleFunc("POST /api/updates/apply", s.apiUpdatesApply)
	s.mux.HandleFunc("POST /api/updates/apply-all", s.apiUpdatesApplyAll)
	s.mux.HandleFunc("POST /api/updates/skip/{id}", s.apiUpdatesSkip)
	s.mux.HandleFunc("POST /api/handoff/consume", s.apiConsumeHandoff)
	s.mux.HandleFunc("POST /api/wallet/rpc", s.apiWalletRPC)
	s.mux.HandleFunc("GET /api/alerts", s.apiAlerts)
	s.mux.HandleFunc("POST /api/alerts/{id}/acknowledge", s.apiAcknowledgeAlert)
	s.mux.HandleFunc("POST /api/system/emergency-stop", s.apiEmergencyStop)
	s.mux.HandleFunc("POST /api/webhooks/registry", s.apiRegistryWebhook)
}

// apiRegistryWebhook ingests a Docker Hub/GHCR/generic registry push
// notification and, when its image matches a catalog service, enqueues a
// pending update for the dashboard's updates-available surface. Unmatched
// or unrecognised payloads are acknowledged but not enqueued, since a
// registry will retry on anything but a 2xx; an empty or malformed JSON body
// is answered with 400.
func (s *Server) apiRegistryWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	notif, err := webhook.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	svc, ok := s.deps.Catalog.FindByImageRepo(notif.Repo)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged", "matched": "false"})
		return
	}
	s.deps.UpdateQueue.Add(updatequeue.PendingUpdate{
		ServiceID:     svc.ServiceID,
		ContainerName: svc.ContainerName,
		CurrentImage:  svc.ImageRef,
		TargetVersion: notif.Tag,
		Source:        notif.Registry,
		DetectedAt:    time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged", "matched": "true", "serviceId": string(svc.ServiceID)})
}

// apiStatus reports the current observation of every known service.
func (s *Server) apiStatus(w http.ResponseWriter, r *http.Request) {
	obs := s.deps.Monitor.AllObservations()
	out := make([]map[string]any, 0, len(obs))
	for id, o := range obs {
		out = append(out, map[string]any{
			"serviceId": id,
			"state":     o.State,
			"health":    o.Health,
			"startedAt": o.StartedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// apiResources reports one fresh host resource sample.
func (s *Server) apiResources(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resources == nil {
		writeError(w, http.StatusServiceUnavailable, "resource sampling not enabled")
		return
	}
	sample, err := s.deps.Resources.Read(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// apiResourcesHistory reports the sampler's retained ring of past readings,
// oldest first.
func (s *Server) apiResourcesHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resources == nil {
		writeError(w, http.StatusServiceUnavailable, "resource sampling not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Resources.History())
}

func (s *Server) serviceByID(w http.ResponseWriter, r *http.Request) (catalog.ServiceDefinition, bool) {
	id := catalog.ServiceID(r.PathValue("id"))
	svc, ok := s.deps.Catalog.GetService(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown service: "+string(id))
		return catalog.ServiceDefinition{}, false
	}
	return svc, true
}

func (s *Server) apiServiceStart(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.serviceByID(w, r)
	if !ok {
		return
	}
	ctx, cancel := detached(120 * time.Second)
	defer cancel()
	if err := s.deps.Monitor.Start(ctx, []string{string(svc.OwningProfileID)}); err != nil {
		writeFerrorOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) apiServiceStop(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.serviceByID(w, r)
	if !ok {
		return
	}
	ctx, cancel := detached(60 * time.Second)
	defer cancel()
	if err := s.deps.Monitor.Stop(ctx, []string{string(svc.OwningProfileID)}); err != nil {
		writeFerrorOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) apiServiceRestart(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.serviceByID(w, r)
	if !ok {
		return
	}
	ctx, cancel := detached(120 * time.Second)
	defer cancel()
	if err := s.deps.Monitor.Restart(ctx, []catalog.ServiceID{svc.ServiceID}); err != nil {
		writeFerrorOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}

func (s *Server) apiServiceLogs(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.serviceByID(w, r)
	if !ok {
		return
	}
	tail := 200
	if v := r.URL.Query().Get("tail"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			tail = n
		}
	}

	stream, err := s.deps.Containers.Logs(r.Context(), svc.ContainerName, tail, false)
	if err != nil {
		writeFerrorOr500(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.Copy(w, stream)
}

func (s *Server) apiGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Config.Values())
}

func (s *Server) apiPostConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UpdateIntervalMs    *int `json:"updateIntervalMs"`
		HiddenTabIntervalMs *int `json:"hiddenTabIntervalMs"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UpdateIntervalMs != nil {
		s.deps.Config.SetUpdateIntervalMs(*req.UpdateIntervalMs)
	}
	if req.HiddenTabIntervalMs != nil {
		s.deps.Config.SetHiddenTabIntervalMs(*req.HiddenTabIntervalMs)
	}
	s.deps.Bus.Publish(events.Event{
		Type:      events.ConfigChanged,
		Payload:   s.deps.Config.Values(),
		Timestamp: time.Now(),
	})
	writeJSON(w, http.StatusOK, s.deps.Config.Values())
}

func (s *Server) apiUpdatesAvailable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.UpdateQueue.List())
}

func (s *Server) apiUpdatesApply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceID    string `json:"serviceId"`
		CreateBackup bool   `json:"createBackup"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	pending, ok := s.deps.UpdateQueue.Get(catalog.ServiceID(req.ServiceID))
	if !ok {
		writeError(w, http.StatusNotFound, "no pending update for service: "+req.ServiceID)
		return
	}
	s.runUpdates(w, []update.Target{{ServiceID: pending.ServiceID, TargetVersion: pending.TargetVersion}}, req.CreateBackup)
}

func (s *Server) apiUpdatesApplyAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CreateBackup bool `json:"createBackup"`
	}
	_ = decodeBody(w, r, &req) // empty body is fine; createBackup defaults false

	pendings := s.deps.UpdateQueue.List()
	targets := make([]update.Target, 0, len(pendings))
	for _, p := range pendings {
		targets = append(targets, update.Target{ServiceID: p.ServiceID, TargetVersion: p.TargetVersion})
	}
	if len(targets) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "nothing to apply"})
		return
	}
	s.runUpdates(w, targets, req.CreateBackup)
}

// runUpdates drives the pipeline in a detached goroutine and returns
// immediately with an "accepted" acknowledgement; completion is observed
// through the update lifecycle events on the bus.
func (s *Server) runUpdates(w http.ResponseWriter, targets []update.Target, createBackup bool) {
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = string(t.ServiceID)
	}

	go func() {
		ctx, cancel := detached(30 * time.Minute)
		defer cancel()
		results, err := s.deps.Update.Run(ctx, targets, update.Flags{CreateBackup: createBackup})
		if err != nil {
			s.deps.Log.Error("update pipeline failed", "error", err)
			return
		}
		for _, r := range results {
			if r.Status == "Done" {
				s.deps.UpdateQueue.Remove(r.ServiceID)
			}
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "services": ids})
}

func (s *Server) apiUpdatesSkip(w http.ResponseWriter, r *http.Request) {
	id := catalog.ServiceID(r.PathValue("id"))
	pending, ok := s.deps.UpdateQueue.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no pending update for service: "+string(id))
		return
	}
	s.deps.UpdateQueue.Ignore(id, pending.TargetVersion)
	writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
}

// apiConsumeHandoff redeems a single-use handoff token issued by the wizard
// (install/reconfigure/update launch context) and returns its payload. A
// token peeked earlier via the wizard's token-data endpoint is still
// consumable; after this call it is not.
func (s *Server) apiConsumeHandoff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}
	payload, err := s.deps.Tokens.Consume(req.Token)
	if err != nil {
		writeFerrorOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// apiWalletRPC forwards a JSON-RPC request body verbatim to the configured
// node endpoint, so browser clients never talk to the node's RPC port
// directly. The body is size-capped; the node's response passes through
// untouched.
func (s *Server) apiWalletRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.deps.Config.KaspaNodeRPCURL(), bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "node rpc unreachable: " + err.Error(), "kind": string(ferrors.KindRPCError)})
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// apiAlerts reports active alerts plus the bounded history.
func (s *Server) apiAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":  s.deps.Alerts.Active(),
		"history": s.deps.Alerts.History(),
	})
}

func (s *Server) apiAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.deps.Alerts.Acknowledge(id) {
		writeError(w, http.StatusNotFound, "no active alert with id: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// apiEmergencyStop stops every profile none of whose services is flagged
// Critical in the catalog. A profile with at least one critical service
// keeps running in full, including its non-critical services.
func (s *Server) apiEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var nonCritical []string
	for _, profile := range s.deps.Catalog.ListProfiles() {
		keepProfile := false
		for _, svcID := range profile.Services {
			if svc, ok := s.deps.Catalog.GetService(svcID); ok && svc.Critical {
				keepProfile = true
				break
			}
		}
		if !keepProfile {
			nonCritical = append(nonCritical, string(profile.ProfileID))
		}
	}
	if len(nonCritical) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "nothing to stop"})
		return
	}

	ctx, cancel := detached(60 * time.Second)
	defer cancel()
	if err := s.deps.Monitor.Stop(ctx, nonCritical); err != nil {
		writeFerrorOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped", "profiles": nonCritical})
}

// writeFerrorOr500 maps a *ferrors.Error to an HTTP status via its Kind;
// monitor's own dependency-closure errors map to 409 since they report an
// operator-correctable conflict, not a server fault. Anything else is a 500.
func writeFerrorOr500(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *monitor.PrerequisiteNotReadyError, *monitor.DependentsRunningError:
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	fe, ok := err.(*ferrors.Error)
	if !ok {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusInternalServerError
	switch fe.Kind {
	case ferrors.KindValidation, ferrors.KindConflictingSelection:
		status = http.StatusBadRequest
	case ferrors.KindPrerequisiteNotMet, ferrors.KindDependentsRunning:
		status = http.StatusConflict
	case ferrors.KindRuntimeUnavailable, ferrors.KindProbeRefused:
		status = http.StatusBadGateway
	case ferrors.KindProbeTimeout, ferrors.KindRPCTimeout, ferrors.KindStartupDeadlineExceeded:
		status = http.StatusGatewayTimeout
	case ferrors.KindTokenNotFound:
		status = http.StatusNotFound
	case ferrors.KindTokenExpired, ferrors.KindTokenAlreadyConsumed:
		status = http.StatusGone
	}
	writeJSON(w, status, map[string]string{"error": fe.Message, "kind": string(fe.Kind)})
}
