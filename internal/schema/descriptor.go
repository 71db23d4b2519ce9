// Package schema resolves a project's form definition from its storage
// location into an ordered list of field descriptors.
package schema

import (
	"encoding/json"
	"strings"

	"github.com/devrev/sheetforms/internal/storage"
)

// DefaultKind is the input kind used when the definition row leaves Type empty.
const DefaultKind = "text"

// Column headers of the definition tab.
const (
	ColumnField       = "Field"
	ColumnType        = "Type"
	ColumnLabel       = "Label"
	ColumnName        = "Name"
	ColumnMandatory   = "Mandatory"
	ColumnPlaceholder = "Placeholder"
	ColumnOptions     = "Options"
	ColumnValue       = "Value"
	ColumnExtra       = "Extra"
	ColumnAction      = "Action"
)

// FieldDescriptor is one input field of a project's form.
type FieldDescriptor struct {
	// Name is both the display key and the storage column key.
	Name string
	// Kind is interpreted by the renderer only.
	Kind        string
	Label       string
	Required    bool
	Placeholder string
	Options     []string
	Default     string
	Extra       string
	Action      string
}

type wireField struct {
	Field       string   `json:"Field"`
	Type        string   `json:"Type"`
	Label       string   `json:"Label"`
	Mandatory   string   `json:"Mandatory"`
	Placeholder string   `json:"Placeholder,omitempty"`
	Options     []string `json:"Options,omitempty"`
	Value       string   `json:"Value,omitempty"`
	Extra       string   `json:"Extra,omitempty"`
	Action      string   `json:"Action,omitempty"`
}

// MarshalJSON renders the descriptor in the form-definition wire format.
// Optional attributes are omitted when empty; Mandatory is "x" or "".
func (f FieldDescriptor) MarshalJSON() ([]byte, error) {
	mandatory := ""
	if f.Required {
		mandatory = "x"
	}
	return json.Marshal(wireField{
		Field:       f.Name,
		Type:        f.Kind,
		Label:       f.Label,
		Mandatory:   mandatory,
		Placeholder: f.Placeholder,
		Options:     f.Options,
		Value:       f.Default,
		Extra:       f.Extra,
		Action:      f.Action,
	})
}

// FromRecord builds a descriptor from one definition row, applying defaults.
func FromRecord(rec storage.Record) FieldDescriptor {
	name := strings.TrimSpace(rec[ColumnField])

	kind := strings.TrimSpace(rec[ColumnType])
	if kind == "" {
		kind = DefaultKind
	}

	label := strings.TrimSpace(rec[ColumnLabel])
	if label == "" {
		label = strings.TrimSpace(rec[ColumnName])
	}
	if label == "" {
		label = name
	}

	return FieldDescriptor{
		Name:        name,
		Kind:        kind,
		Label:       label,
		Required:    strings.EqualFold(strings.TrimSpace(rec[ColumnMandatory]), "true"),
		Placeholder: rec[ColumnPlaceholder],
		Options:     splitOptions(rec[ColumnOptions]),
		Default:     rec[ColumnValue],
		Extra:       rec[ColumnExtra],
		Action:      rec[ColumnAction],
	}
}

func splitOptions(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	opts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			opts = append(opts, p)
		}
	}
	return opts
}
