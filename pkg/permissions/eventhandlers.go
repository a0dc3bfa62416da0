package permissions

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/inkwellhq/inkwell/pkg/observability"
)

// EventHandlers ingests domain change notifications from the membership,
// sharing, and group collaborators when they run out of process. Delivery is
// at-least-once: collaborators retry on any non-2xx response, and the
// materializer's idempotent writes absorb duplicates.
type EventHandlers struct {
	materializer *Materializer
	logger       *observability.Logger
}

// NewEventHandlers creates the event ingestion handlers.
func NewEventHandlers(materializer *Materializer, logger *observability.Logger) *EventHandlers {
	return &EventHandlers{materializer: materializer, logger: logger}
}

// RegisterRoutes registers the event ingestion route.
func (h *EventHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/internal/v1/permissions/events", h.Ingest).Methods("POST")
}

// eventEnvelope is the wire form of an inbound event: a kind tag plus the
// variant's payload.
type eventEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type rolePayload struct {
	MembershipID int64  `json:"membership_id"`
	UserID       int64  `json:"user_id"`
	WorkspaceID  int64  `json:"workspace_id,omitempty"`
	SubspaceID   int64  `json:"subspace_id,omitempty"`
	Admin        bool   `json:"admin"`
	Level        string `json:"level"`
	Removed      bool   `json:"removed"`
	ActorID      *int64 `json:"actor_id,omitempty"`
}

type groupMembershipPayload struct {
	GroupID int64  `json:"group_id"`
	UserID  int64  `json:"user_id"`
	Removed bool   `json:"removed"`
	ActorID *int64 `json:"actor_id,omitempty"`
}

type groupGrantPayload struct {
	GrantID      int64  `json:"grant_id"`
	GroupID      int64  `json:"group_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   int64  `json:"resource_id"`
	Level        string `json:"level"`
	Priority     int    `json:"priority"`
	Removed      bool   `json:"removed"`
	ActorID      *int64 `json:"actor_id,omitempty"`
}

type directSharePayload struct {
	ShareID      int64  `json:"share_id"`
	UserID       int64  `json:"user_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   int64  `json:"resource_id"`
	Level        string `json:"level"`
	Removed      bool   `json:"removed"`
	ActorID      *int64 `json:"actor_id,omitempty"`
}

type guestAccessPayload struct {
	GrantID      int64      `json:"grant_id"`
	GuestID      int64      `json:"guest_id"`
	ResourceType string     `json:"resource_type"`
	ResourceID   int64      `json:"resource_id"`
	Level        string     `json:"level"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Removed      bool       `json:"removed"`
	ActorID      *int64     `json:"actor_id,omitempty"`
}

type resourceMovedPayload struct {
	ResourceType string `json:"resource_type"`
	ResourceID   int64  `json:"resource_id"`
}

// Ingest decodes and materializes one event.
func (h *EventHandlers) Ingest(w http.ResponseWriter, r *http.Request) {
	var envelope eventEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event envelope")
		return
	}

	ev, err := decodeEvent(envelope)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.materializer.Apply(r.Context(), ev); err != nil {
		observability.FromContext(r.Context()).WithError(err).
			WithField("event", envelope.Kind).Error("failed to ingest event")
		writeError(w, http.StatusInternalServerError, "failed to materialize event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "materialized"})
}

func decodeEvent(envelope eventEnvelope) (Event, error) {
	switch envelope.Kind {
	case "workspace_role_changed":
		var p rolePayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload", envelope.Kind)
		}
		level, err := parseEventLevel(p.Level, p.Removed)
		if err != nil {
			return nil, err
		}
		return WorkspaceRoleChanged{
			MembershipID: p.MembershipID,
			UserID:       p.UserID,
			WorkspaceID:  p.WorkspaceID,
			Admin:        p.Admin,
			Level:        level,
			Removed:      p.Removed,
			ActorID:      p.ActorID,
		}, nil

	case "subspace_role_changed":
		var p rolePayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload", envelope.Kind)
		}
		level, err := parseEventLevel(p.Level, p.Removed)
		if err != nil {
			return nil, err
		}
		return SubspaceRoleChanged{
			MembershipID: p.MembershipID,
			UserID:       p.UserID,
			SubspaceID:   p.SubspaceID,
			Admin:        p.Admin,
			Level:        level,
			Removed:      p.Removed,
			ActorID:      p.ActorID,
		}, nil

	case "group_membership_changed":
		var p groupMembershipPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload", envelope.Kind)
		}
		return GroupMembershipChanged{
			GroupID: p.GroupID,
			UserID:  p.UserID,
			Removed: p.Removed,
			ActorID: p.ActorID,
		}, nil

	case "group_grant_changed":
		var p groupGrantPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload", envelope.Kind)
		}
		level, err := parseEventLevel(p.Level, p.Removed)
		if err != nil {
			return nil, err
		}
		return GroupGrantChanged{
			GrantID:  p.GrantID,
			GroupID:  p.GroupID,
			Resource: ResourceRef{Type: ResourceType(p.ResourceType), ID: p.ResourceID},
			Level:    level,
			Priority: p.Priority,
			Removed:  p.Removed,
			ActorID:  p.ActorID,
		}, nil

	case "direct_share_changed":
		var p directSharePayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload", envelope.Kind)
		}
		level, err := parseEventLevel(p.Level, p.Removed)
		if err != nil {
			return nil, err
		}
		return DirectShareChanged{
			ShareID:  p.ShareID,
			UserID:   p.UserID,
			Resource: ResourceRef{Type: ResourceType(p.ResourceType), ID: p.ResourceID},
			Level:    level,
			Removed:  p.Removed,
			ActorID:  p.ActorID,
		}, nil

	case "guest_access_changed":
		var p guestAccessPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload", envelope.Kind)
		}
		level, err := parseEventLevel(p.Level, p.Removed)
		if err != nil {
			return nil, err
		}
		ev := GuestAccessChanged{
			GrantID:  p.GrantID,
			GuestID:  p.GuestID,
			Resource: ResourceRef{Type: ResourceType(p.ResourceType), ID: p.ResourceID},
			Level:    level,
			Removed:  p.Removed,
			ActorID:  p.ActorID,
		}
		if !p.Removed {
			if p.ExpiresAt == nil {
				return nil, fmt.Errorf("guest_access_changed requires expires_at")
			}
			ev.ExpiresAt = *p.ExpiresAt
		}
		return ev, nil

	case "resource_moved":
		var p resourceMovedPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed %s payload", envelope.Kind)
		}
		ref := ResourceRef{Type: ResourceType(p.ResourceType), ID: p.ResourceID}
		if !ref.Type.Valid() {
			return nil, fmt.Errorf("unknown resource type %q", p.ResourceType)
		}
		return ResourceMoved{Resource: ref}, nil
	}

	return nil, fmt.Errorf("unknown event kind %q", envelope.Kind)
}

// parseEventLevel parses the level for create/update events. Removal events
// carry no level.
func parseEventLevel(raw string, removed bool) (PermissionLevel, error) {
	if removed {
		return LevelNone, nil
	}
	level, err := ParsePermissionLevel(raw)
	if err != nil {
		return LevelNone, err
	}
	return level, nil
}
