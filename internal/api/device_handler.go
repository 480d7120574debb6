package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/relayforge/devgate/internal/store"
)

// deviceHandler serves the device enrollment REST endpoints. Every
// operation is scoped to the authenticated user.
type deviceHandler struct {
	store        store.DeviceStore
	tunnelDomain string
}

type deviceResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type enrollRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

func (h *deviceHandler) toResponse(d *store.Device) deviceResponse {
	return deviceResponse{
		ID:        d.ID,
		Name:      d.Name,
		Origin:    "https://" + d.ID + "." + h.tunnelDomain,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (h *deviceHandler) list(w http.ResponseWriter, r *http.Request) {
	authCtx := authFromContext(r.Context())
	devices, err := h.store.ListDevicesForUser(r.Context(), authCtx.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list devices failed")
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for i := range devices {
		out = append(out, h.toResponse(&devices[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

func (h *deviceHandler) enroll(w http.ResponseWriter, r *http.Request) {
	authCtx := authFromContext(r.Context())

	var req enrollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if !store.ValidDeviceID(req.ID) {
		writeError(w, http.StatusBadRequest, "device id must be a valid DNS label")
		return
	}

	dev := &store.Device{ID: req.ID, UserID: authCtx.UserID, Name: req.Name}
	if err := h.store.CreateDevice(r.Context(), dev); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "device id already enrolled")
			return
		}
		writeError(w, http.StatusInternalServerError, "enroll device failed")
		return
	}
	writeJSON(w, http.StatusCreated, h.toResponse(dev))
}

func (h *deviceHandler) get(w http.ResponseWriter, r *http.Request) {
	authCtx := authFromContext(r.Context())
	dev, err := h.store.GetDeviceForUser(r.Context(), r.PathValue("id"), authCtx.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get device failed")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(dev))
}

func (h *deviceHandler) delete(w http.ResponseWriter, r *http.Request) {
	authCtx := authFromContext(r.Context())
	err := h.store.DeleteDevice(r.Context(), r.PathValue("id"), authCtx.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete device failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
