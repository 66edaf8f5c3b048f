// Package templates matches incident subjects against the template catalog
// and seeds checklists from the selected template.
package templates

import (
	"strings"
	"unicode/utf8"

	"github.com/bissquit/incident-relay/internal/domain"
	"golang.org/x/text/cases"
)

// DefaultThreshold is the minimum score for a template to be applied.
const DefaultThreshold = 70

// Match is the outcome of scoring one template.
type Match struct {
	TemplateID string
	Name       string
	Score      float64
}

// Score rates how well a template name fits an incident subject, from 0 to 100.
func Score(objectText, name string) float64 {
	// Caser is stateful, one per call.
	fold := cases.Fold()
	object := strings.TrimSpace(fold.String(objectText))
	tpl := strings.TrimSpace(fold.String(name))

	if object == "" || tpl == "" {
		return 0
	}

	switch {
	case object == tpl:
		return 100
	case strings.Contains(object, tpl):
		return 95
	case strings.Contains(tpl, object):
		return 90
	}

	return wordOverlap(strings.Fields(object), strings.Fields(tpl))
}

// wordOverlap scores the share of significant template words found in the subject.
func wordOverlap(objectWords, templateWords []string) float64 {
	total, matched := 0, 0
	for _, tw := range templateWords {
		if utf8.RuneCountInString(tw) <= 3 {
			continue
		}
		total++
		for _, ow := range objectWords {
			if strings.Contains(ow, tw) || strings.Contains(tw, ow) {
				matched++
				break
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total) * 80
}

// BestMatch returns the highest scoring template at or above threshold.
// Ties keep the first template in catalog order.
func BestMatch(objectText string, catalog []domain.Template, threshold float64) (Match, bool) {
	var best Match
	found := false
	for _, tpl := range catalog {
		score := Score(objectText, tpl.Name)
		if !found || score > best.Score {
			best = Match{TemplateID: tpl.ID, Name: tpl.Name, Score: score}
			found = true
		}
	}
	if !found || best.Score < threshold {
		return Match{}, false
	}
	return best, true
}

// PendingActions converts template actions into a fresh checklist.
func PendingActions(tpl *domain.Template) []domain.Action {
	actions := make([]domain.Action, 0, len(tpl.Actions))
	for _, a := range tpl.Actions {
		priority := domain.ActionPriorityNormal
		if a.Mandatory {
			priority = domain.ActionPriorityHigh
		}
		actions = append(actions, domain.Action{
			Text:     a.Text,
			Priority: priority,
			State:    domain.ActionStateTodo,
		})
	}
	return actions
}

// Seed applies a template to an incident. Existing actions are never overwritten.
// It reports whether the checklist was filled.
func Seed(inc *domain.Incident, tpl *domain.Template, score float64) bool {
	id := tpl.ID
	inc.TemplateID = &id
	inc.TemplateScore = &score

	if len(inc.Actions) > 0 {
		return false
	}
	inc.Actions = PendingActions(tpl)
	return true
}
