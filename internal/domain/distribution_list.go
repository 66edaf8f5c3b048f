package domain

// DistributionListType represents the kind of a distribution list.
type DistributionListType string

// Distribution list types.
const (
	DistributionListMetier      DistributionListType = "metier"
	DistributionListPersonnelle DistributionListType = "personnelle"
	DistributionListValidator   DistributionListType = "validator"
)

// IsValid checks if the list type is valid.
func (t DistributionListType) IsValid() bool {
	return t == DistributionListMetier || t == DistributionListPersonnelle || t == DistributionListValidator
}

// DistributionList is a named recipient list.
// Empty Domains or Sites act as wildcards.
type DistributionList struct {
	ID      string               `json:"id"`
	Name    string               `json:"name" validate:"required,max=255"`
	Type    DistributionListType `json:"type" validate:"required,oneof=metier personnelle validator"`
	Gravity *Gravity             `json:"gravity"`
	Domains []string             `json:"domains" validate:"dive,required"`
	Sites   []string             `json:"sites" validate:"dive,required"`
	Emails  []string             `json:"emails" validate:"dive,email"`
	Active  bool                 `json:"active"`
}
