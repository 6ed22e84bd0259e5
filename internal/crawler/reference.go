package crawler

import (
	"fmt"
	"strings"
)

// Kind selects how a dashboard is addressed on the page.
type Kind int

const (
	// ByID addresses a dashboard through the anchor whose fragment is its id.
	ByID Kind = iota
	// ByName addresses a dashboard through its visible display name.
	ByName
)

func (k Kind) String() string {
	switch k {
	case ByID:
		return "id"
	case ByName:
		return "name"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reference identifies one dashboard to extract. Label, when set, overrides
// the result title.
type Reference struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// ID references a dashboard by its stable identifier.
func ID(id string) Reference {
	return Reference{Kind: ByID, Value: id}
}

// Name references a dashboard by its display name.
func Name(name string) Reference {
	return Reference{Kind: ByName, Value: name}
}

// WithLabel returns a copy of r whose result title is label.
func (r Reference) WithLabel(label string) Reference {
	r.Label = label
	return r
}

// Title is the label override, else the display name for name references.
func (r Reference) Title() string {
	if r.Label != "" {
		return r.Label
	}
	if r.Kind == ByName {
		return r.Value
	}
	return ""
}

func (r Reference) String() string {
	return r.Kind.String() + ":" + r.Value
}

// Validate reports whether the reference can be located at all.
func (r Reference) Validate() error {
	if r.Kind != ByID && r.Kind != ByName {
		return fmt.Errorf("unknown reference kind %d", int(r.Kind))
	}
	if strings.TrimSpace(r.Value) == "" {
		return fmt.Errorf("empty dashboard %s", r.Kind)
	}
	return nil
}

// ParseReference accepts "id:<id>", "name:<display name>" or a bare id.
func ParseReference(s string) (Reference, error) {
	var ref Reference
	switch {
	case strings.HasPrefix(s, "id:"):
		ref = ID(strings.TrimSpace(strings.TrimPrefix(s, "id:")))
	case strings.HasPrefix(s, "name:"):
		ref = Name(strings.TrimSpace(strings.TrimPrefix(s, "name:")))
	default:
		ref = ID(strings.TrimSpace(s))
	}
	if err := ref.Validate(); err != nil {
		return Reference{}, fmt.Errorf("invalid dashboard reference %q: %w", s, err)
	}
	return ref, nil
}

// DashboardSpec is the file form of a reference. Id wins over name when both
// are set, with the name kept as the title.
type DashboardSpec struct {
	ID    string `json:"id,omitempty" mapstructure:"id" yaml:"id"`
	Name  string `json:"name,omitempty" mapstructure:"name" yaml:"name"`
	Label string `json:"label,omitempty" mapstructure:"label" yaml:"label"`
}

// Reference converts the spec into a Reference.
func (d DashboardSpec) Reference() (Reference, error) {
	var ref Reference
	switch {
	case d.ID != "":
		ref = ID(d.ID).WithLabel(d.Name)
	case d.Name != "":
		ref = Name(d.Name)
	default:
		return Reference{}, fmt.Errorf("dashboard entry needs an id or a name")
	}
	if d.Label != "" {
		ref = ref.WithLabel(d.Label)
	}
	return ref, ref.Validate()
}

// cssString quotes s for use inside a double-quoted CSS attribute selector.
func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `)
	return `"` + r.Replace(s) + `"`
}
