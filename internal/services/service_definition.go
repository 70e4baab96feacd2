// Package services holds ServiceDefinition, the routing target and
// searchable document used by the control plane's registry and service
// index.
package services

// ServiceDefinition describes a registered worker: its routing address and
// the natural-language description the agent orchestrator searches over.
type ServiceDefinition struct {
	ServiceName string `json:"service_name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt,omitempty"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
}

// Document returns the text the service index scores against a query.
func (d ServiceDefinition) Document() string {
	if d.Prompt != "" {
		return d.Description + " " + d.Prompt
	}
	return d.Description
}
