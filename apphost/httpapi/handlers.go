package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/benoitc/gaffer/gerrors"
	"github.com/benoitc/gaffer/manager"
	"github.com/benoitc/gaffer/template"
	"github.com/benoitc/gaffer/version"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
)

type handlerSet struct {
	mgr *manager.Manager
	log hclog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{"ok": false, "error": err.Error()})
}

func decodeBody(r *http.Request) (map[string]any, error) {
	var raw map[string]any
	if r.Body == nil {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (h *handlerSet) nodeInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"name": "gaffer", "version": version.String()})
}

func (h *handlerSet) ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *handlerSet) version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(version.String()))
}

func (h *handlerSet) listSessions(w http.ResponseWriter, r *http.Request) {
	views, err := h.mgr.ListTemplates()
	if err != nil {
		writeErr(w, err)
		return
	}
	seen := map[string]bool{}
	var sessions []string
	for _, v := range views {
		if !seen[v.Session] {
			seen[v.Session] = true
			sessions = append(sessions, v.Session)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *handlerSet) listJobs(w http.ResponseWriter, r *http.Request) {
	views, err := h.mgr.ListTemplates()
	if err != nil {
		writeErr(w, err)
		return
	}
	names := make([]string, 0, len(views))
	for _, v := range views {
		names = append(names, v.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": names})
}

func (h *handlerSet) listSessionJobs(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]
	views, err := h.mgr.ListTemplates()
	if err != nil {
		writeErr(w, err)
		return
	}
	var names []string
	for _, v := range views {
		if v.Session == sid {
			names = append(names, v.Name)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionid": sid, "jobs": names})
}

func (h *handlerSet) loadTemplate(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]
	raw, err := decodeBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	spec, err := template.DecodeSpec(raw)
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := h.mgr.LoadTemplate(sid, spec); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handlerSet) qname(r *http.Request) string {
	vars := mux.Vars(r)
	return template.Qualify(vars["sid"], vars["name"])
}

func (h *handlerSet) getTemplate(w http.ResponseWriter, r *http.Request) {
	qname := h.qname(r)
	views, err := h.mgr.ListTemplates()
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, v := range views {
		if v.Name == qname {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	http.NotFound(w, r)
}

func (h *handlerSet) updateTemplate(w http.ResponseWriter, r *http.Request) {
	qname := h.qname(r)
	raw, err := decodeBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	spec, err := template.DecodeSpec(raw)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.mgr.UpdateTemplate(qname, spec); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handlerSet) unloadTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.UnloadTemplate(h.qname(r)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handlerSet) numProcesses(w http.ResponseWriter, r *http.Request) {
	qname := h.qname(r)
	if r.Method == http.MethodGet {
		views, err := h.mgr.ListTemplates()
		if err != nil {
			writeErr(w, err)
			return
		}
		for _, v := range views {
			if v.Name == qname {
				writeJSON(w, http.StatusOK, map[string]any{"numprocesses": v.NumProcesses})
				return
			}
		}
		http.NotFound(w, r)
		return
	}

	raw, err := decodeBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	scaleStr, _ := raw["scale"].(string)
	req, err := parseScale(scaleStr)
	if err != nil {
		writeErr(w, err)
		return
	}
	n, err := h.mgr.Scale(qname, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"numprocesses": n})
}

// parseScale decodes the "+N"|"-N"|"=N" mini-grammar of spec.md §6's
// numprocesses endpoint.
func parseScale(s string) (manager.ScaleRequest, error) {
	if len(s) < 2 {
		return manager.ScaleRequest{}, gerrors.InvalidSpec("scale", "invalid scale expression %q", s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return manager.ScaleRequest{}, gerrors.InvalidSpec("scale", "invalid scale expression %q", s)
	}
	switch s[0] {
	case '+':
		return manager.ScaleRequest{Delta: &n}, nil
	case '-':
		neg := -n
		return manager.ScaleRequest{Delta: &neg}, nil
	case '=':
		return manager.ScaleRequest{Absolute: &n}, nil
	default:
		return manager.ScaleRequest{}, gerrors.InvalidSpec("scale", "invalid scale expression %q", s)
	}
}

func (h *handlerSet) templateState(w http.ResponseWriter, r *http.Request) {
	qname := h.qname(r)
	if r.Method == http.MethodGet {
		views, err := h.mgr.ListTemplates()
		if err != nil {
			writeErr(w, err)
			return
		}
		for _, v := range views {
			if v.Name == qname {
				writeJSON(w, http.StatusOK, stateCode(v.State))
				return
			}
		}
		http.NotFound(w, r)
		return
	}

	var code float64
	if err := json.NewDecoder(r.Body).Decode(&code); err != nil {
		writeErr(w, gerrors.InvalidSpec("state", "body must be a bare 0|1|2"))
		return
	}
	var opErr error
	switch int(code) {
	case 0:
		opErr = h.mgr.Stop(qname)
	case 1:
		opErr = h.mgr.Start(qname)
	case 2:
		opErr = h.mgr.Reload(qname)
	default:
		opErr = gerrors.InvalidSpec("state", "must be 0, 1, or 2")
	}
	if opErr != nil {
		writeErr(w, opErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func stateCode(s string) int {
	switch s {
	case "paused", "draining":
		return 0
	default:
		return 1
	}
}

func (h *handlerSet) templateSignal(w http.ResponseWriter, r *http.Request) {
	qname := h.qname(r)
	raw, err := decodeBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	sigNum, _ := raw["signal"].(float64)
	if err := h.mgr.Signal(qname, nil, syscall.Signal(int(sigNum))); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handlerSet) templateStats(w http.ResponseWriter, r *http.Request) {
	qname := h.qname(r)
	agg, err := h.mgr.GetStats(qname)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": agg})
}

func (h *handlerSet) templatePIDs(w http.ResponseWriter, r *http.Request) {
	qname := h.qname(r)
	views, err := h.mgr.ListInstances(qname)
	if err != nil {
		writeErr(w, err)
		return
	}
	pids := make([]int64, 0, len(views))
	for _, v := range views {
		pids = append(pids, v.PID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pids": pids})
}

func (h *handlerSet) commit(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]
	name := mux.Vars(r)["name"]
	raw, err := decodeBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	views, err := h.mgr.ListTemplates()
	if err != nil {
		writeErr(w, err)
		return
	}
	qname := template.Qualify(sid, name)
	var spec template.Spec
	found := false
	for _, v := range views {
		if v.Name == qname {
			spec = v.Spec
			found = true
			break
		}
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	if env, ok := raw["env"].(map[string]any); ok {
		if spec.Env == nil {
			spec.Env = map[string]string{}
		}
		for k, v := range env {
			if s, ok := v.(string); ok {
				spec.Env[k] = s
			}
		}
	}
	if gt, ok := raw["graceful_timeout"]; ok {
		if secs, ok := gt.(float64); ok {
			spec.GracefulTimeout = time.Duration(secs * float64(time.Second))
		}
	}
	spec.NumProcesses = 0

	res, err := h.mgr.Commit(sid, spec)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pid": res.PID})
}

func (h *handlerSet) allPIDs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pids": h.mgr.PIDs()})
}

func pidFromVars(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["pid"], 10, 64)
}

func (h *handlerSet) instanceInfo(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, map[string]any{
		"pid":        in.PID,
		"name":       in.QName,
		"state":      in.State().String(),
		"os_pid":     in.OSPID(),
		"supervised": in.Supervised,
	})
}

func (h *handlerSet) stopInstance(w http.ResponseWriter, r *http.Request) {
	pid, err := pidFromVars(r)
	if err != nil {
		writeErr(w, gerrors.InvalidSpec("pid", "must be an integer"))
		return
	}
	if err := h.mgr.StopPID(pid); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handlerSet) instanceSignal(w http.ResponseWriter, r *http.Request) {
	pid, err := pidFromVars(r)
	if err != nil {
		writeErr(w, gerrors.InvalidSpec("pid", "must be an integer"))
		return
	}
	raw, err := decodeBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	sigNum, _ := raw["signal"].(float64)
	if err := h.mgr.SignalPID(pid, syscall.Signal(int(sigNum))); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handlerSet) instanceStats(w http.ResponseWriter, r *http.Request) {
	pid, err := pidFromVars(r)
	if err != nil {
		writeErr(w, gerrors.InvalidSpec("pid", "must be an integer"))
		return
	}
	agg, err := h.mgr.StatsPID(pid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

