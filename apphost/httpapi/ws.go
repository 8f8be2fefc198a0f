package httpapi

import (
	"net/http"

	"github.com/benoitc/gaffer/streammux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Reference adapter: allow any origin. A production deployment in
	// front of untrusted browsers should replace this with an allowlist.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wstream serves WS /wstreams/<pid> (spec.md §6): every declared output
// label is multiplexed onto the socket as a {label,data} JSON text frame,
// and inbound binary/text frames are written to the instance's stdin.
func (h *handlerSet) wstream(w http.ResponseWriter, r *http.Request) {
	pid, err := pidFromVars(r)
	if err != nil {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}
	in, ok := h.mgr.Instance(pid)
	if !ok {
		http.NotFound(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "pid", pid, "error", err)
		return
	}
	defer conn.Close()

	var subIDs []string
	writeCh := make(chan streammux.Chunk, 256)
	for _, label := range in.Spec.StreamLabels() {
		if in.Output(label) == nil {
			continue
		}
		topic := streammux.Topic(pid, label)
		subID, err := h.mgr.Monitor(topic, func(_ string, payload any) {
			if c, ok := payload.(streammux.Chunk); ok {
				select {
				case writeCh <- c:
				default:
				}
			}
		})
		if err == nil {
			subIDs = append(subIDs, subID)
		}
	}
	defer func() {
		for _, id := range subIDs {
			h.mgr.Unmonitor(id)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if input := in.Input(); input != nil {
				_, _ = input.Write(data)
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case chunk := <-writeCh:
			if err := conn.WriteJSON(map[string]any{"label": chunk.Label, "data": chunk.Data}); err != nil {
				return
			}
		}
	}
}
