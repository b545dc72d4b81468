package tools

// Definition describes one tool for protocol-level listings.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema is the JSON Schema object advertised for a tool's arguments.
type InputSchema struct {
	Type                 string         `json:"type"`
	Properties           map[string]any `json:"properties"`
	Required             []string       `json:"required,omitempty"`
	AdditionalProperties bool           `json:"additionalProperties"`
}

// Definitions lists the dispatcher's tools with their argument schemas,
// derived from the typed inputs of Tools.
func (d *Dispatcher) Definitions() []Definition {
	agentTools := d.Tools()
	definitions := make([]Definition, 0, len(agentTools))
	for _, tool := range agentTools {
		info := tool.Info()
		properties := info.Parameters
		if properties == nil {
			properties = map[string]any{}
		}
		definitions = append(definitions, Definition{
			Name:        info.Name,
			Description: info.Description,
			InputSchema: InputSchema{
				Type:       "object",
				Properties: properties,
				Required:   append([]string(nil), info.Required...),
			},
		})
	}

	return definitions
}

// Catalog returns the tool definitions without a connected bridge.
func Catalog() []Definition {
	return (&Dispatcher{}).Definitions()
}
