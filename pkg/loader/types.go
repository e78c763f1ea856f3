package loader

// Document is a rule-set file: one or more rule definitions plus optional
// metadata identifying the set.
type Document struct {
	// Name identifies the rule set.
	Name string `yaml:"name" json:"name"`

	// Version is an optional free-form version marker.
	Version string `yaml:"version" json:"version,omitempty"`

	// Rules are the declarative rule definitions.
	Rules []RuleDefinition `yaml:"rules" json:"rules" validate:"required,min=1,dive"`
}

// RuleDefinition is the declarative form of a rule before conversion into an
// engine.Rule.
type RuleDefinition struct {
	// Name is the unique name of the rule within its document.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Priority orders rule scheduling; higher runs earlier. Zero means
	// default.
	Priority int `yaml:"priority" json:"priority,omitempty" validate:"gte=0"`

	// Conditions is the boolean tree, in the same shape the engine
	// serializes: an all/any combinator of leaf tests.
	Conditions map[string]any `yaml:"conditions" json:"conditions" validate:"required"`

	// Event is emitted when the rule's conditions hold.
	Event EventDefinition `yaml:"event" json:"event" validate:"required"`
}

// EventDefinition is the declarative form of a rule's event payload.
type EventDefinition struct {
	Type   string         `yaml:"type" json:"type" validate:"required"`
	Params map[string]any `yaml:"params" json:"params,omitempty"`
}
