package domain

// TemplateAction is a checklist item proposed by a template.
type TemplateAction struct {
	Text      string `json:"text"`
	Mandatory bool   `json:"mandatory"`
}

// Template is a reusable incident model used for auto-fill.
type Template struct {
	ID                       string           `json:"id"`
	Name                     string           `json:"name"`
	Actions                  []TemplateAction `json:"actions"`
	LinkedDistributionListID *string          `json:"linked_distribution_list_id"`
	Active                   bool             `json:"active"`
}
