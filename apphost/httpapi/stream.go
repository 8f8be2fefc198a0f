package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/benoitc/gaffer/gerrors"
	"github.com/benoitc/gaffer/streammux"
	"github.com/gorilla/mux"
)

// streamOutput serves GET /streams/<pid>/<label>?feed=continuous|longpoll|eventsource&heartbeat=...
// (spec.md §6). continuous and eventsource keep the connection open and push
// chunks as they're published; longpoll returns the backlog at once if it is
// non-empty, otherwise the next delivered chunk, or 204 after a timeout.
func (h *handlerSet) streamOutput(w http.ResponseWriter, r *http.Request) {
	pid, err := pidFromVars(r)
	if err != nil {
		writeErr(w, gerrors.InvalidSpec("pid", "must be an integer"))
		return
	}
	label := mux.Vars(r)["label"]
	in, ok := h.mgr.Instance(pid)
	if !ok {
		http.NotFound(w, r)
		return
	}
	out := in.Output(label)
	if out == nil {
		http.NotFound(w, r)
		return
	}

	feed := r.URL.Query().Get("feed")
	if feed == "" {
		feed = "continuous"
	}
	heartbeat := parseHeartbeat(r.URL.Query().Get("heartbeat"))

	topic := streammux.Topic(pid, label)

	switch feed {
	case "longpoll":
		h.longpollStream(w, r, out, topic)
	case "eventsource":
		h.sseStream(w, r, topic, label, heartbeat)
	default:
		h.continuousStream(w, r, topic, heartbeat)
	}
}

func parseHeartbeat(raw string) time.Duration {
	if raw == "" || raw == "false" || raw == "0" {
		return 0
	}
	if raw == "true" {
		return 15 * time.Second
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func (h *handlerSet) longpollStream(w http.ResponseWriter, r *http.Request, out *streammux.OutputMux, topic string) {
	backlog := out.Backlog()
	if len(backlog) > 0 {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(backlog)
		return
	}

	ch := make(chan []byte, 1)
	subID, err := h.mgr.Monitor(topic, func(_ string, payload any) {
		if c, ok := payload.(streammux.Chunk); ok {
			select {
			case ch <- c.Data:
			default:
			}
		}
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	defer h.mgr.Unmonitor(subID)

	select {
	case data := <-ch:
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	case <-time.After(30 * time.Second):
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
	}
}

func (h *handlerSet) continuousStream(w http.ResponseWriter, r *http.Request, topic string, heartbeat time.Duration) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)

	ch := make(chan []byte, 64)
	subID, err := h.mgr.Monitor(topic, func(_ string, payload any) {
		if c, ok := payload.(streammux.Chunk); ok {
			select {
			case ch <- c.Data:
			default:
			}
		}
	})
	if err != nil {
		return
	}
	defer h.mgr.Unmonitor(subID)

	var tick <-chan time.Time
	if heartbeat > 0 {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			if _, err := w.Write(data); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-tick:
			_, _ = w.Write([]byte{})
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (h *handlerSet) sseStream(w http.ResponseWriter, r *http.Request, topic, label string, heartbeat time.Duration) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ch := make(chan []byte, 64)
	subID, err := h.mgr.Monitor(topic, func(_ string, payload any) {
		if c, ok := payload.(streammux.Chunk); ok {
			select {
			case ch <- c.Data:
			default:
			}
		}
	})
	if err != nil {
		return
	}
	defer h.mgr.Unmonitor(subID)

	var tick <-chan time.Time
	if heartbeat > 0 {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", label, data)
			if flusher != nil {
				flusher.Flush()
			}
		case <-tick:
			fmt.Fprint(w, ": heartbeat\n\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// streamStdin serves POST /streams/<pid>/stdin, writing the request body
// directly to the instance's InputMux (spec.md §6).
func (h *handlerSet) streamStdin(w http.ResponseWriter, r *http.Request) {
	pid, err := pidFromVars(r)
	if err != nil {
		writeErr(w, gerrors.InvalidSpec("pid", "must be an integer"))
		return
	}
	in, ok := h.mgr.Instance(pid)
	if !ok {
		http.NotFound(w, r)
		return
	}
	input := in.Input()
	if input == nil {
		writeErr(w, gerrors.InvalidStatef("instance %d has no stdin redirect", pid))
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := input.Write(data); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
