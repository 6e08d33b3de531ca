package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/guseggert/cmdhub/catalog"
	"github.com/guseggert/cmdhub/runner"
	"github.com/julienschmidt/httprouter"
)

type AddCommandRequest struct {
	Name string `json:"name"`
	Cmd  string `json:"cmd"`
	Desc string `json:"desc,omitempty"`
}

type AddCommandResponse struct {
	Success bool   `json:"success"`
	CID     string `json:"cid"`
}

type RunCommandResponse struct {
	Message string `json:"message"`
	Output  string `json:"output"`
}

type ProcessActionResponse struct {
	Output string `json:"output"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Hub) writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Errorw("error marshaling response", "Error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(b); err != nil {
		h.logger.Debugf("error writing response: %s", err)
	}
}

func (h *Hub) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Hub) dashboard(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap := h.aggregator.Snapshot(r.Context(), r.URL.Query().Get("last_out"))
	h.writeJSON(w, http.StatusOK, snap)
}

// processAction runs a lifecycle action synchronously. A failing action is reported in the output, not as an HTTP error.
func (h *Hub) processAction(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	action := params.ByName("action")
	name := params.ByName("name")

	cmdLine, err := h.registry.ActionCommand(action, name)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	output, err := runner.Capture(h.executor, cmdLine)
	if err != nil {
		h.logger.Warnw("process action failed", "Name", name, "Action", action, "Error", err)
		output = err.Error()
	}
	h.writeJSON(w, http.StatusOK, ProcessActionResponse{Output: output})
}

func (h *Hub) addCommand(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req AddCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cmd, err := h.catalog.Add(req.Name, req.Cmd, req.Desc)
	if errors.Is(err, catalog.ErrInvalidCommand) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Errorw("error adding command", "Name", req.Name, "Error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, AddCommandResponse{Success: true, CID: cmd.ID})
}

func (h *Hub) runCommand(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cid := params.ByName("cid")
	cmd, err := h.catalog.Get(cid)
	if errors.Is(err, catalog.ErrCommandNotFound) {
		h.writeError(w, http.StatusNotFound, "Command not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	output, err := runner.Capture(h.executor, cmd.Cmd)
	if err != nil {
		h.logger.Debugw("command failed", "CID", cid, "Error", err)
		output = err.Error()
	}
	h.writeJSON(w, http.StatusOK, RunCommandResponse{Message: "Executed " + cmd.Name, Output: output})
}

func (h *Hub) deleteCommand(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if err := h.catalog.Delete(params.ByName("cid")); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *Hub) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Hub) live(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.liveServer.ServeHTTP(w, r)
}
