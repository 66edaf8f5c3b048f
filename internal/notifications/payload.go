package notifications

import (
	"strings"
	"time"

	"github.com/bissquit/incident-relay/internal/domain"
)

// Payload contains data for rendering a notification.
type Payload struct {
	Kind        domain.EventKind `json:"kind"`
	Incident    IncidentData     `json:"incident"`
	IncidentURL string           `json:"incident_url,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// IncidentData contains incident information for notification.
type IncidentData struct {
	ID            string          `json:"id"`
	Object        string          `json:"object"`
	Gravity       string          `json:"gravity"`
	Status        string          `json:"status"`
	Domains       []string        `json:"domains,omitempty"`
	SitesImpacted []string        `json:"sites_impacted,omitempty"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	ValidatedBy   string          `json:"validated_by,omitempty"`
	CreatorEmail  string          `json:"creator_email,omitempty"`
	Actions       []domain.Action `json:"actions,omitempty"`
}

// NewPayload builds the rendering payload for an incident event.
func NewPayload(inc *domain.Incident, kind domain.EventKind, baseURL string) Payload {
	data := IncidentData{
		ID:            inc.ID,
		Object:        inc.Object,
		Gravity:       string(inc.Gravity),
		Status:        string(inc.Status),
		Domains:       inc.Domains,
		SitesImpacted: inc.SitesImpacted,
		OpenedAt:      inc.OpenedAt,
		ClosedAt:      inc.ClosedAt,
		CreatorEmail:  inc.CreatorEmail,
		Actions:       inc.Actions,
	}
	if inc.ValidatedBy != nil {
		data.ValidatedBy = *inc.ValidatedBy
	}

	return Payload{
		Kind:        kind,
		Incident:    data,
		IncidentURL: incidentURL(baseURL, inc.ID, kind),
		GeneratedAt: time.Now(),
	}
}

// incidentURL links to the incident. Deleted incidents have nowhere to link to.
func incidentURL(baseURL, id string, kind domain.EventKind) string {
	if baseURL == "" || kind == domain.EventKindForceDeleted {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/incidents/" + id
}
