package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// inputSchema reflects a tool argument struct into an inline JSON schema
// suitable for LLM tool definitions.
func inputSchema(v any) map[string]any {
	r := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	s := r.Reflect(v)
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("reflecting schema for %T: %v", v, err))
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(fmt.Sprintf("decoding schema for %T: %v", v, err))
	}
	return m
}
