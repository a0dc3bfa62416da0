package permissions

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/inkwellhq/inkwell/pkg/observability"
)

// Handlers exposes the query service to in-cluster collaborators over HTTP.
// This is an internal contract, not a public API; authentication happens at
// the platform edge before requests reach these routes.
type Handlers struct {
	service Service
	logger  *observability.Logger
}

// NewHandlers creates HTTP handlers over the query service.
func NewHandlers(service Service, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// RegisterRoutes registers the internal permission routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/internal/v1/permissions/effective", h.EffectivePermission).Methods("GET")
	router.HandleFunc("/internal/v1/permissions/resources", h.AccessibleResources).Methods("GET")
}

// EffectivePermission resolves one (principal, resource) pair.
//
// Query parameters: user_id XOR guest_id, resource_type, resource_id.
func (h *Handlers) EffectivePermission(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "exactly one of user_id or guest_id is required")
		return
	}
	ref, ok := resourceFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "valid resource_type and resource_id are required")
		return
	}

	level, err := h.service.EffectivePermission(r.Context(), p, ref)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("permission resolution failed")
		writeError(w, http.StatusInternalServerError, "unable to determine access")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"principal":     p.String(),
		"resource_type": ref.Type,
		"resource_id":   ref.ID,
		"permission":    level.String(),
	})
}

// AccessibleResources enumerates resources the principal can access.
//
// Query parameters: user_id XOR guest_id, resource_type, min_level.
func (h *Handlers) AccessibleResources(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "exactly one of user_id or guest_id is required")
		return
	}

	resourceType := ResourceType(r.URL.Query().Get("resource_type"))
	if !resourceType.Valid() {
		writeError(w, http.StatusBadRequest, "valid resource_type is required")
		return
	}

	minLevel := LevelRead
	if raw := r.URL.Query().Get("min_level"); raw != "" {
		level, err := ParsePermissionLevel(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown min_level")
			return
		}
		minLevel = level
	}

	ids, err := h.service.AccessibleResources(r.Context(), p, resourceType, minLevel)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("resource enumeration failed")
		writeError(w, http.StatusInternalServerError, "unable to determine access")
		return
	}
	if ids == nil {
		ids = []int64{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"principal":     p.String(),
		"resource_type": resourceType,
		"min_level":     minLevel.String(),
		"resource_ids":  ids,
	})
}

func principalFromQuery(r *http.Request) (Principal, bool) {
	userRaw := r.URL.Query().Get("user_id")
	guestRaw := r.URL.Query().Get("guest_id")
	if (userRaw == "") == (guestRaw == "") {
		return Principal{}, false
	}

	if userRaw != "" {
		id, err := strconv.ParseInt(userRaw, 10, 64)
		if err != nil || id <= 0 {
			return Principal{}, false
		}
		return UserPrincipal(id), true
	}

	id, err := strconv.ParseInt(guestRaw, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, false
	}
	return GuestPrincipal(id), true
}

func resourceFromQuery(r *http.Request) (ResourceRef, bool) {
	resourceType := ResourceType(r.URL.Query().Get("resource_type"))
	if !resourceType.Valid() {
		return ResourceRef{}, false
	}
	id, err := strconv.ParseInt(r.URL.Query().Get("resource_id"), 10, 64)
	if err != nil || id <= 0 {
		return ResourceRef{}, false
	}
	return ResourceRef{Type: resourceType, ID: id}, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
