package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetctl/fleetctl/internal/broadcast"
	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/nodesync"
	"github.com/fleetctl/fleetctl/internal/tasks"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// controlMessage is an incoming client->server WebSocket frame:
// subscribe/unsubscribe, task control, sync strategy, and pause/resume.
type controlMessage struct {
	Type         string `json:"type"`
	Subscription string `json:"subscription"`
	Channel      string `json:"channel"`
	TaskID       string `json:"taskId"`
	ServiceID    string `json:"serviceId"`
	Strategy     string `json:"strategy"`
	Backgrounded bool   `json:"backgrounded"`
}

// handleWebSocket upgrades the connection and runs its control-message read
// loop until the client disconnects. Outgoing subscription traffic is
// entirely driven by the Broadcaster's own writer goroutine, started inside
// Register; this loop only handles request/response control frames.
//
// The client value Register returns is of an unexported broadcast package
// type, so it's kept in a closure rather than threaded through named
// function parameters across files.
func handleWebSocket(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		deps.Log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := deps.Broadcaster.Register(conn, nil)
	defer deps.Broadcaster.Unregister(client)

	// reply enqueues one request/response control frame through the client's
	// writer goroutine; a direct conn.WriteMessage here would race the
	// Broadcaster's own writer (gorilla allows one concurrent writer only).
	reply := func(msgType string, data any) {
		deps.Broadcaster.Send(client, broadcast.Message{Type: msgType, Data: data, Timestamp: time.Now()})
	}

	dispatch := func(msg controlMessage) {
		switch msg.Type {
		case "subscribe":
			if sub := firstNonEmpty(msg.Subscription, msg.Channel); sub != "" {
				deps.Broadcaster.Subscribe(client, sub)
			}
		case "unsubscribe":
			if sub := firstNonEmpty(msg.Subscription, msg.Channel); sub != "" {
				deps.Broadcaster.Unsubscribe(client, sub)
			}
		case "tasks:list":
			reply("tasks:list", deps.Tasks.List(tasks.Filter{}))
		case "task:register":
			ok := deps.Tasks.Start(msg.TaskID)
			reply("task:register", map[string]any{"taskId": msg.TaskID, "started": ok})
		case "task:status":
			t, ok := deps.Tasks.Get(msg.TaskID)
			if !ok {
				reply("task:status", map[string]any{"taskId": msg.TaskID, "found": false})
				return
			}
			reply("task:status", t)
		case "task:cancel":
			ok := deps.Tasks.Cancel(msg.TaskID)
			reply("task:cancel", map[string]any{"taskId": msg.TaskID, "cancelled": ok})
		case "sync:strategy-chosen":
			// Background registers a supervised node-sync task; Wait and
			// Skip need no server-side task (the client either watches
			// sync:progress directly or accepts the fallback endpoint).
			resp := map[string]any{"serviceId": msg.ServiceID, "strategy": msg.Strategy}
			if nodesync.Strategy(msg.Strategy) == nodesync.StrategyBackground {
				spec := tasks.NodeSyncSpec(msg.ServiceID, deps.Sync, clock.Real{}, true, nil)
				id := deps.Tasks.Register(spec)
				deps.Tasks.Start(id)
				resp["taskId"] = id
			}
			reply("sync:strategy-chosen", resp)
		case "sync:pause":
			ok := deps.Tasks.Pause(msg.TaskID)
			reply("sync:pause", map[string]any{"taskId": msg.TaskID, "paused": ok})
		case "sync:resume":
			ok := deps.Tasks.Resume(msg.TaskID)
			reply("sync:resume", map[string]any{"taskId": msg.TaskID, "resumed": ok})
		case "backgrounded":
			deps.Broadcaster.SetBackgrounded(client, msg.Backgrounded)
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		dispatch(msg)
	}
}


func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
