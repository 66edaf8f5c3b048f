package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/incident-relay/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer renders notifications from templates.
type Renderer struct {
	templates map[domain.EventKind]*template.Template
	location  *time.Location
}

// NewRenderer creates a new renderer and loads one template per event kind.
// Times are printed in loc, UTC when nil.
func NewRenderer(loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	r := &Renderer{
		templates: make(map[domain.EventKind]*template.Template),
		location:  loc,
	}

	funcMap := template.FuncMap{
		"title":        titleCase,
		"upper":        strings.ToUpper,
		"join":         strings.Join,
		"formatTime":   r.formatTime,
		"gravityLabel": gravityLabel,
		"statusLabel":  statusLabel,
		"pending":      pendingActions,
	}

	for _, kind := range domain.AllEventKinds {
		filename := fmt.Sprintf("templates/%s.tmpl", kind)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(string(kind)).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", kind, err)
		}

		r.templates[kind] = tmpl
	}

	return r, nil
}

// Render returns the subject and body for a payload.
func (r *Renderer) Render(payload Payload) (subject, body string, err error) {
	tmpl, ok := r.templates[payload.Kind]
	if !ok {
		return "", "", fmt.Errorf("template not found: %s", payload.Kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, payload); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", payload.Kind, err)
	}

	return renderSubject(payload), strings.TrimSpace(buf.String()), nil
}

func renderSubject(payload Payload) string {
	var prefix string
	switch payload.Kind {
	case domain.EventKindCreation:
		if payload.Incident.Status == string(domain.IncidentStatusEnAttente) {
			prefix = "Validation requise"
		} else {
			prefix = "Nouvel incident"
		}
	case domain.EventKindValidation:
		prefix = "Incident validé"
	case domain.EventKindCloture:
		prefix = "Incident clôturé"
	case domain.EventKindArchive:
		prefix = "Incident archivé"
	case domain.EventKindUnarchive:
		prefix = "Incident désarchivé"
	case domain.EventKindTrashed:
		prefix = "Incident supprimé"
	case domain.EventKindRestored:
		prefix = "Incident restauré"
	case domain.EventKindForceDeleted:
		prefix = "Incident supprimé définitivement"
	case domain.EventKindDowngraded:
		prefix = "Gravité abaissée"
	default:
		prefix = "Incident"
	}

	return fmt.Sprintf("[%s] %s", prefix, payload.Incident.Object)
}

// Template functions

var titleCaser = cases.Title(language.French)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func (r *Renderer) formatTime(t any) string {
	switch v := t.(type) {
	case time.Time:
		return v.In(r.location).Format("02/01/2006 15:04")
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.In(r.location).Format("02/01/2006 15:04")
	}
	return ""
}

func gravityLabel(g string) string {
	switch domain.Gravity(g) {
	case domain.GravityFaible:
		return "Faible"
	case domain.GravityMoyen:
		return "Moyenne"
	case domain.GravityGrave:
		return "Grave"
	case domain.GravityTresGrave:
		return "Très grave"
	}
	return g
}

func statusLabel(s string) string {
	switch domain.IncidentStatus(s) {
	case domain.IncidentStatusEnAttente:
		return "En attente de validation"
	case domain.IncidentStatusEnCours:
		return "En cours"
	case domain.IncidentStatusCloture:
		return "Clôturé"
	case domain.IncidentStatusArchive:
		return "Archivé"
	}
	return s
}

func pendingActions(actions []domain.Action) []domain.Action {
	var out []domain.Action
	for _, a := range actions {
		if a.State == domain.ActionStateTodo {
			out = append(out, a)
		}
	}
	return out
}
