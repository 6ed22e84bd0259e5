// internal/browser/shim/shim.go
package shim

import (
	_ "embed"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

const (
	// ConfigPlaceholder is the string replaced in the JS template with the actual JSON configuration.
	ConfigPlaceholder = "/*{{DASHCRAWL_HELPER_CONFIG}}*/"

	// Namespace is the global the helpers install themselves under.
	Namespace = "window.__dashcrawl"
)

//go:embed helpers.js
var helpersTemplate string

// Config is handed to the page-side helpers.
type Config struct {
	MarkerAttribute string  `json:"markerAttribute"`
	ControlBar      string  `json:"controlBar"`
	ChartRoot       string  `json:"chartRoot"`
	Table           string  `json:"table"`
	TableLabel      string  `json:"tableLabel"`
	TableLabelDepth int     `json:"tableLabelDepth"`
	Scale           float64 `json:"scale"`
}

// Template returns the embedded helper template.
func Template() (string, error) {
	if helpersTemplate == "" {
		return "", fmt.Errorf("embedded helpers.js template is empty or failed to load")
	}
	return helpersTemplate, nil
}

// Build renders the embedded helpers with cfg.
func Build(cfg Config) (string, error) {
	if cfg.MarkerAttribute == "" {
		return "", fmt.Errorf("marker attribute is required")
	}
	template, err := Template()
	if err != nil {
		return "", err
	}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode helper config: %w", err)
	}
	return BuildFromTemplate(template, string(configJSON))
}

// BuildFromTemplate injects the configuration into the template.
func BuildFromTemplate(template, configJSON string) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template is empty")
	}
	if !strings.Contains(template, ConfigPlaceholder) {
		return "", fmt.Errorf("template does not contain the required placeholder: %s", ConfigPlaceholder)
	}
	if configJSON == "" {
		configJSON = "{}"
	}
	return strings.Replace(template, ConfigPlaceholder, configJSON, 1), nil
}

// Call renders a call expression for the helper fn with JSON encoded args,
// e.g. Call("findText", "Malaria", "m-1").
func Call(fn string, args ...interface{}) (string, error) {
	encoded := make([]string, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("failed to encode argument %d for %s: %w", i, fn, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("%s.%s(%s)", Namespace, fn, strings.Join(encoded, ", ")), nil
}
