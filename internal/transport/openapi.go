package transport

import "net/http"

// toolDoc is one /openapi catalog entry — the tools.Spec fields a client
// needs to build a call, without exposing the unexported Handler.
type toolDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Capability  string `json:"capability"`
	SideEffect  string `json:"sideEffect"`
	RequiresRef bool   `json:"requiresRef"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

type openAPIDoc struct {
	Version string    `json:"version"`
	Tools   []toolDoc `json:"tools"`
}

// handleOpenAPI serializes the tool registry and schemas (spec §4.8:
// "/openapi serializes the tool registry and schemas").
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	specs := s.Dispatcher.Registry.List()
	docs := make([]toolDoc, 0, len(specs))
	for _, spec := range specs {
		var schema any
		if len(spec.InputSchema) > 0 {
			schema = spec.InputSchema
		}
		docs = append(docs, toolDoc{
			Name:        spec.Name,
			Description: spec.Description,
			Capability:  spec.Capability,
			SideEffect:  string(spec.SideEffect),
			RequiresRef: spec.RequiresRef,
			InputSchema: schema,
		})
	}
	writeJSON(w, http.StatusOK, openAPIDoc{Version: "1.0", Tools: docs})
}
