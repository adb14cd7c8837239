// Package form describes editable fields for administrative clients. It
// carries no rendering; clients build widgets from the descriptions.
package form

// Kind identifies the widget a field is edited with
type Kind string

const (
	KindText        Kind = "text"
	KindHidden      Kind = "hidden"
	KindMultiSelect Kind = "multiselect"
	KindHeader      Kind = "header"
)

// Option is one selectable value
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field describes one form field
type Field struct {
	Name     string   `json:"name"`
	Title    string   `json:"title,omitempty"`
	Kind     Kind     `json:"kind"`
	Value    any      `json:"value,omitempty"`
	Options  []Option `json:"options,omitempty"`
	ReadOnly bool     `json:"read_only,omitempty"`
}

// Text returns a text field
func Text(name, title string, value any) Field {
	return Field{Name: name, Title: title, Kind: KindText, Value: value}
}

// Hidden returns a hidden field
func Hidden(name string, value any) Field {
	return Field{Name: name, Kind: KindHidden, Value: value}
}
