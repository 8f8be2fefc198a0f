package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// watch serves GET /watch/<p1>[/<p2>[/<p3>]]?feed=... (spec.md §6): an
// event-stream subscription over an arbitrary dot-path pattern built from up
// to three path segments.
func (h *handlerSet) watch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	segs := []string{vars["p1"]}
	if v, ok := vars["p2"]; ok {
		segs = append(segs, v)
	}
	if v, ok := vars["p3"]; ok {
		segs = append(segs, v)
	}
	pattern := strings.Join(segs, ".")

	flusher, _ := w.(http.Flusher)
	feed := r.URL.Query().Get("feed")
	if feed == "" {
		feed = "continuous"
	}
	contentType := "application/x-ndjson"
	if feed == "eventsource" {
		contentType = "text/event-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)

	type event struct {
		topic string
		body  []byte
	}
	ch := make(chan event, 64)
	subID, err := h.mgr.Monitor(pattern, func(topic string, payload any) {
		body, err := json.Marshal(map[string]any{"topic": topic, "payload": payload})
		if err != nil {
			return
		}
		select {
		case ch <- event{topic: topic, body: body}:
		default:
		}
	})
	if err != nil {
		return
	}
	defer h.mgr.Unmonitor(subID)

	heartbeat := parseHeartbeat(r.URL.Query().Get("heartbeat"))
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
		case ev := <-ch:
			if feed == "eventsource" {
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.topic, ev.body)
			} else {
				fmt.Fprintf(w, "%s\n", ev.body)
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-tick:
			if feed == "eventsource" {
				fmt.Fprint(w, ": heartbeat\n\n")
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
