// Package recipients computes who must be notified about an incident event.
package recipients

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/bissquit/incident-relay/internal/pkg/ctxlog"
)

// ErrMissingValidatorRoster is logged when no usable validator list exists.
// It is never returned: escalation simply proceeds without validators.
var ErrMissingValidatorRoster = errors.New("validator distribution list missing or empty")

// IsEscalation reports whether the event goes through the validator roster.
func IsEscalation(inc *domain.Incident, kind domain.EventKind) bool {
	return kind == domain.EventKindValidation ||
		(kind == domain.EventKindCreation && inc.Gravity.RequiresValidation())
}

// Resolve returns the deduplicated recipients for an incident event.
// lists may contain lists of any type; inactive ones are ignored.
// The result is sorted for stable output.
func Resolve(ctx context.Context, inc *domain.Incident, kind domain.EventKind, lists []domain.DistributionList) []string {
	logger := ctxlog.FromContext(ctx).With("incident_id", inc.ID, "event", kind)

	var result []string
	if IsEscalation(inc, kind) {
		validators := validatorEmails(lists)
		if len(validators) == 0 {
			logger.Warn("escalation without validators", "error", ErrMissingValidatorRoster)
		}
		result = union(validators, standardRecipients(inc, lists, false))
	} else {
		result = standardRecipients(inc, lists, true)
	}

	if len(result) == 0 {
		logger.Info("no recipients for event")
	}
	return result
}

// validatorEmails returns the emails of the first active validator list.
func validatorEmails(lists []domain.DistributionList) []string {
	for _, l := range lists {
		if l.Active && l.Type == domain.DistributionListValidator {
			return l.Emails
		}
	}
	return nil
}

// standardRecipients unions matching metier lists with the incident's own
// addresses and removes template exclusions not re-added manually.
func standardRecipients(inc *domain.Incident, lists []domain.DistributionList, includeMetierLists bool) []string {
	var sources [][]string
	if includeMetierLists {
		for _, l := range lists {
			if MatchesMetier(l, inc) {
				sources = append(sources, l.Emails)
			}
		}
	}
	sources = append(sources,
		inc.ManualEmails,
		inc.AutoNotifiedEmails,
		[]string{inc.CreatorEmail, inc.AssigneeEmail},
	)

	manual := toSet(inc.ManualEmails)
	excluded := toSet(inc.TemplateExcludedEmails)

	seen := make(map[string]struct{})
	result := make([]string, 0)
	for _, src := range sources {
		for _, email := range src {
			key := normalize(email)
			if key == "" {
				continue
			}
			if _, ok := excluded[key]; ok {
				if _, manuallyAdded := manual[key]; !manuallyAdded {
					continue
				}
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, key)
		}
	}
	slices.Sort(result)
	return result
}

// MatchesMetier reports whether a list targets the incident.
// Empty domain or site sets match everything.
func MatchesMetier(l domain.DistributionList, inc *domain.Incident) bool {
	if !l.Active || l.Type != domain.DistributionListMetier {
		return false
	}
	if l.Gravity == nil || *l.Gravity != inc.Gravity {
		return false
	}
	return matchesTargets(l.Domains, inc.Domains) && matchesTargets(l.Sites, inc.SitesImpacted)
}

func matchesTargets(targets, values []string) bool {
	if len(targets) == 0 {
		return true
	}
	for _, t := range targets {
		for _, v := range values {
			if strings.TrimSpace(t) == strings.TrimSpace(v) {
				return true
			}
		}
	}
	return false
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	result := make([]string, 0, len(a)+len(b))
	for _, src := range [][]string{a, b} {
		for _, email := range src {
			key := normalize(email)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, key)
		}
	}
	slices.Sort(result)
	return result
}

func toSet(emails []string) map[string]struct{} {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		if key := normalize(e); key != "" {
			set[key] = struct{}{}
		}
	}
	return set
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
