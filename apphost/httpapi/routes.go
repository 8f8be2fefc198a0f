package httpapi

import (
	"net/http"

	"github.com/benoitc/gaffer/manager"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
)

func newRouter(m *manager.Manager, log hclog.Logger) http.Handler {
	h := &handlerSet{mgr: m, log: log}
	r := mux.NewRouter()

	r.HandleFunc("/", h.nodeInfo).Methods(http.MethodGet)
	r.HandleFunc("/ping", h.ping).Methods(http.MethodGet)
	r.HandleFunc("/version", h.version).Methods(http.MethodGet)

	r.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)

	r.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{sid}", h.listSessionJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{sid}", h.loadTemplate).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{sid}/{name}", h.getTemplate).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{sid}/{name}", h.updateTemplate).Methods(http.MethodPut)
	r.HandleFunc("/jobs/{sid}/{name}", h.unloadTemplate).Methods(http.MethodDelete)
	r.HandleFunc("/jobs/{sid}/{name}/numprocesses", h.numProcesses).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/jobs/{sid}/{name}/state", h.templateState).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/jobs/{sid}/{name}/signal", h.templateSignal).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{sid}/{name}/stats", h.templateStats).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{sid}/{name}/pids", h.templatePIDs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{sid}/{name}/commit", h.commit).Methods(http.MethodPost)

	r.HandleFunc("/pids", h.allPIDs).Methods(http.MethodGet)
	r.HandleFunc("/{pid:[0-9]+}", h.instanceInfo).Methods(http.MethodGet)
	r.HandleFunc("/{pid:[0-9]+}", h.stopInstance).Methods(http.MethodDelete)
	r.HandleFunc("/{pid:[0-9]+}/signal", h.instanceSignal).Methods(http.MethodPost)
	r.HandleFunc("/{pid:[0-9]+}/stats", h.instanceStats).Methods(http.MethodGet)

	r.HandleFunc("/streams/{pid:[0-9]+}/{label}", h.streamOutput).Methods(http.MethodGet)
	r.HandleFunc("/streams/{pid:[0-9]+}/stdin", h.streamStdin).Methods(http.MethodPost)
	r.HandleFunc("/wstreams/{pid:[0-9]+}", h.wstream)
	r.HandleFunc("/watch/{p1}", h.watch)
	r.HandleFunc("/watch/{p1}/{p2}", h.watch)
	r.HandleFunc("/watch/{p1}/{p2}/{p3}", h.watch)

	return r
}
