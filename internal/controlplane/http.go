package controlplane

import (
	"encoding/json"
	"net/http"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/messages"
	"github.com/taskmesh/taskmesh/internal/services"
	"github.com/taskmesh/taskmesh/internal/tasks"
)

// RegisterHandlers mounts the control plane's HTTP surface on mux
// (spec.md §6): liveness, service registration, task submission/
// inspection, and the process_message callback a remote broker delivers
// COMPLETED_TASK messages to.
func (cp *ControlPlane) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /", cp.handleHome)
	mux.HandleFunc("POST /services/register", cp.handleRegisterService)
	mux.HandleFunc("POST /services/deregister", cp.handleDeregisterService)
	mux.HandleFunc("GET /services", cp.handleListServices)
	mux.HandleFunc("POST /tasks", cp.handleCreateTask)
	mux.HandleFunc("GET /tasks", cp.handleListTasks)
	mux.HandleFunc("GET /tasks/{task_id}", cp.handleGetTask)
	mux.HandleFunc("GET /tasks/{task_id}/result", cp.handleGetResult)
	mux.HandleFunc("POST /process_message", cp.handleProcessMessage)
}

// AsConsumer builds the Consumer binding the control plane registers with
// the broker: a remote CallbackURL when running as its own process,
// targeting /process_message at selfURL, or an in-process Handler
// otherwise.
func (cp *ControlPlane) AsConsumer(remote bool, selfURL string) broker.Consumer {
	if remote {
		return broker.Consumer{
			ID:          "control_plane",
			MessageType: messages.TopicControlPlane,
			CallbackURL: selfURL + "/process_message",
		}
	}
	return broker.Consumer{
		ID:          "control_plane",
		MessageType: messages.TopicControlPlane,
		Handler:     cp.handleMessage,
	}
}

func (cp *ControlPlane) handleProcessMessage(w http.ResponseWriter, r *http.Request) {
	var msg messages.QueueMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := cp.handleMessage(r.Context(), msg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (cp *ControlPlane) handleHome(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Running  bool `json:"running"`
		Services int  `json:"services"`
		Tasks    int  `json:"tasks"`
	}{
		Running:  true,
		Services: len(cp.registry.List()),
		Tasks:    len(cp.tasks.List()),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (cp *ControlPlane) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	var def services.ServiceDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := cp.RegisterService(def); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type deregisterServiceRequest struct {
	ServiceName string `json:"service_name"`
}

func (cp *ControlPlane) handleDeregisterService(w http.ResponseWriter, r *http.Request) {
	var req deregisterServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := cp.DeregisterService(req.ServiceName); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (cp *ControlPlane) handleListServices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cp.ListServices())
}

func (cp *ControlPlane) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var def tasks.TaskDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if def.TaskID == "" {
		http.Error(w, "task_id is required", http.StatusBadRequest)
		return
	}
	if err := cp.CreateTask(r.Context(), def); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(def)
}

func (cp *ControlPlane) handleListTasks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cp.ListTasks())
}

func (cp *ControlPlane) handleGetTask(w http.ResponseWriter, r *http.Request) {
	rec, err := cp.GetTask(r.PathValue("task_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

func (cp *ControlPlane) handleGetResult(w http.ResponseWriter, r *http.Request) {
	result, ok, err := cp.GetResult(r.PathValue("task_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if !ok {
		http.Error(w, "task has not reached a terminal state", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
