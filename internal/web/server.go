// Package web implements the two HTTP/WebSocket controllers fleetctl
// exposes: the dashboard controller (day-to-day fleet operation) and the
// wizard controller (profile selection, reconfiguration, backup/restore,
// and token-based handoff between the two). Both are built the same way: a
// dependency-injection struct, a bare net/http.ServeMux with Go 1.22
// method+path patterns, thin handler methods, and writeJSON/writeError
// response helpers. No third-party router.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fleetctl/fleetctl/internal/alerts"
	"github.com/fleetctl/fleetctl/internal/auth"
	"github.com/fleetctl/fleetctl/internal/backup"
	"github.com/fleetctl/fleetctl/internal/broadcast"
	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/config"
	"github.com/fleetctl/fleetctl/internal/containers"
	"github.com/fleetctl/fleetctl/internal/events"
	"github.com/fleetctl/fleetctl/internal/logging"
	"github.com/fleetctl/fleetctl/internal/monitor"
	"github.com/fleetctl/fleetctl/internal/nodesync"
	"github.com/fleetctl/fleetctl/internal/resources"
	"github.com/fleetctl/fleetctl/internal/tasks"
	"github.com/fleetctl/fleetctl/internal/tokens"
	"github.com/fleetctl/fleetctl/internal/update"
	"github.com/fleetctl/fleetctl/internal/updatequeue"
	"github.com/fleetctl/fleetctl/internal/validate"
)

// Dependencies wires every subsystem the dashboard and wizard controllers
// call into. Both Server and WizardServer embed the same struct: the
// controllers are two views over one running fleet, not two processes.
type Dependencies struct {
	Catalog     *catalog.Catalog
	Containers  *containers.Adapter
	Monitor     *monitor.Monitor
	Sync        *nodesync.Manager
	Tasks       *tasks.Supervisor
	Backups     *backup.Manager
	Update      *update.Pipeline
	Tokens      *tokens.Store
	Bus         *events.Bus
	Broadcaster *broadcast.Broadcaster
	Alerts      *alerts.Engine
	Resources   *resources.Sampler
	UpdateQueue *updatequeue.Queue
	Config      *config.Config
	Log         *logging.Logger
	Auth        *auth.Gate

	// HostSnapshot reports the host's current available resources for
	// DependencyValidator's combined-footprint checks. Sampled fresh on
	// each validate-selection call since disk/RAM availability drifts over
	// a long-running process.
	HostSnapshot func(ctx context.Context) validate.HostConstraints
}

// writeJSON encodes v as JSON and writes it to the response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// detached returns a context independent of the request's, for goroutines
// started by a handler that must keep running after the response is sent.
func detached(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
