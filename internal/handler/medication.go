package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/pillbox/internal/auth"
	"github.com/dukerupert/pillbox/internal/model"
	"github.com/dukerupert/pillbox/internal/schedule"
	"github.com/dukerupert/pillbox/internal/store"
	"github.com/dukerupert/pillbox/internal/websocket"
)

type MedicationHandler struct {
	medStore  *store.MedicationStore
	lifecycle *schedule.Lifecycle
	hub       *websocket.Hub
	logger    *slog.Logger
}

func NewMedicationHandler(ms *store.MedicationStore, lc *schedule.Lifecycle, hub *websocket.Hub, logger *slog.Logger) *MedicationHandler {
	return &MedicationHandler{medStore: ms, lifecycle: lc, hub: hub, logger: logger}
}

// broadcast tells the owner's dashboards about a change to their list.
func (h *MedicationHandler) broadcast(action, id, userID string) {
	if h.hub != nil {
		h.hub.Broadcast(websocket.NewMessage("medication", action, id, nil).ForUser(userID))
	}
}

type medicationRequest struct {
	Name   string  `json:"name"`
	Dose   float64 `json:"dose"`
	Amount int     `json:"amount"`
	Time   string  `json:"time"`
	Type   string  `json:"type"`
}

// medicationView adds the live reminder state to the stored record.
type medicationView struct {
	model.Medication
	State         string `json:"state"`
	FollowUpArmed bool   `json:"follow_up_armed"`
	FollowUpSent  bool   `json:"follow_up_sent"`
}

// List handles GET /api/medications
func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	meds, err := h.medStore.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list medications", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list medications")
		return
	}
	if meds == nil {
		meds = []model.Medication{}
	}
	writeJSON(w, http.StatusOK, meds)
}

// Get handles GET /api/medications/{id}
func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	med, err := h.medStore.Get(r.PathValue("id"))
	if err != nil {
		h.logger.Error("get medication", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get medication")
		return
	}
	if med == nil || med.UserID != auth.UserID(r.Context()) {
		writeError(w, http.StatusNotFound, "medication not found")
		return
	}

	view := medicationView{Medication: *med, State: "idle"}
	if out, ok := h.lifecycle.State(med.ID).(model.Outstanding); ok {
		view.State = "outstanding"
		view.FollowUpSent = out.FollowUpSent
	}
	view.FollowUpArmed = h.lifecycle.Armed(med.ID)
	writeJSON(w, http.StatusOK, view)
}

// Create handles POST /api/medications
func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req medicationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	clock, err := schedule.NormalizeTime(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, "time must be HH:MM in 24-hour format")
		return
	}
	medType := model.MedicationType(strings.ToLower(strings.TrimSpace(req.Type)))
	if !medType.Valid() {
		writeError(w, http.StatusBadRequest, "type must be pill or injection")
		return
	}
	if req.Amount < 1 {
		writeError(w, http.StatusBadRequest, "amount must be at least 1")
		return
	}
	if req.Dose <= 0 {
		writeError(w, http.StatusBadRequest, "dose must be positive")
		return
	}

	existing, err := h.medStore.FindByName(userID, req.Name)
	if err != nil {
		h.logger.Error("find medication", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create medication")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "a medication with that name already exists")
		return
	}

	med, err := h.medStore.Create(model.Medication{
		Name:   req.Name,
		Dose:   req.Dose,
		Amount: req.Amount,
		Time:   clock,
		Type:   medType,
		UserID: userID,
	})
	if err != nil {
		h.logger.Error("create medication", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create medication")
		return
	}

	h.logger.Info("medication added", "medication_id", med.ID, "user_id", userID, "time", med.Time)
	h.broadcast("created", med.ID, userID)
	writeJSON(w, http.StatusCreated, med)
}

// Remove handles DELETE /api/medications/{name}
func (h *MedicationHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	med, err := h.medStore.FindByName(userID, r.PathValue("name"))
	if err != nil {
		h.logger.Error("find medication", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove medication")
		return
	}
	if med == nil {
		writeError(w, http.StatusNotFound, "medication not found")
		return
	}

	if _, err := h.medStore.Remove(med.ID); err != nil {
		h.logger.Error("remove medication", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove medication")
		return
	}
	h.lifecycle.Forget(med.ID)

	h.logger.Info("medication removed", "medication_id", med.ID, "user_id", userID)
	h.broadcast("removed", med.ID, userID)
	w.WriteHeader(http.StatusNoContent)
}

// Respond returns the handler for POST /api/medications/{id}/taken and
// /skip. Unknown ids are acknowledged without effect.
func (h *MedicationHandler) Respond(action model.Action) http.HandlerFunc {
	status := "taken"
	if action == model.ActionSkip {
		status = "skipped"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := h.lifecycle.Resolve(id, action); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status, "id": id})
	}
}
