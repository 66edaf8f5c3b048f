package distlists

import (
	"fmt"

	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks field formats and the type/targeting rules of a list.
func Validate(l *domain.DistributionList) error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidList, err)
	}

	switch l.Type {
	case domain.DistributionListMetier:
		if l.Gravity == nil || !l.Gravity.IsValid() {
			return fmt.Errorf("%w: metier list requires a valid gravity", ErrInvalidList)
		}
	case domain.DistributionListPersonnelle:
		if l.Gravity != nil {
			return fmt.Errorf("%w: personnelle list cannot carry a gravity", ErrInvalidList)
		}
	case domain.DistributionListValidator:
		if l.Gravity != nil || len(l.Domains) > 0 || len(l.Sites) > 0 {
			return fmt.Errorf("%w: validator list cannot carry gravity, domain or site targeting", ErrInvalidList)
		}
	}
	return nil
}

// ValidateRoster checks that exactly one active validator list exists.
func ValidateRoster(lists []domain.DistributionList) error {
	count := 0
	for _, l := range lists {
		if l.Active && l.Type == domain.DistributionListValidator {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("%w: expected exactly one active validator list, found %d", ErrInvalidList, count)
	}
	return nil
}
