package strategy

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

// reasoningPayload mirrors agent.Reasoning with schema tags. It is the
// structured-output shape of the planner's reasoning block and the two-phase
// strategy's reasoning call.
type reasoningPayload struct {
	ReasoningSteps   []string `json:"reasoning_steps" jsonschema:"required,description=Numbered thoughts leading to the next action"`
	CurrentSituation string   `json:"current_situation" jsonschema:"required,description=One-sentence summary of where the research stands"`
	PlanStatus       string   `json:"plan_status" jsonschema:"description=How the overall plan is progressing"`
	EnoughData       bool     `json:"enough_data" jsonschema:"required,description=Whether collected material suffices to answer"`
	RemainingSteps   []string `json:"remaining_steps" jsonschema:"description=Planned future actions in order"`
	TaskCompleted    bool     `json:"task_completed" jsonschema:"required,description=Whether the task is finished"`
}

// plannerResponse is the full structured output of one planner step.
type plannerResponse struct {
	Reasoning reasoningPayload `json:"reasoning" jsonschema:"required"`
	Tool      plannerToolPick  `json:"tool" jsonschema:"required"`
}

// plannerToolPick is the embedded tool invocation of a planner step.
type plannerToolPick struct {
	Name      string         `json:"name" jsonschema:"required,description=Name of the tool to invoke"`
	Arguments map[string]any `json:"arguments" jsonschema:"description=Arguments matching the tool's parameter schema"`
}

var (
	schemaOnce       sync.Once
	plannerSchemaV   map[string]any
	reasoningSchemaV map[string]any
)

func buildSchemas() {
	plannerSchemaV = reflectSchema(&plannerResponse{})
	reasoningSchemaV = reflectSchema(&reasoningPayload{})
}

// plannerSchema returns the JSON schema for the planner's structured output.
func plannerSchema() map[string]any {
	schemaOnce.Do(buildSchemas)
	return plannerSchemaV
}

// reasoningSchema returns the JSON schema for a bare reasoning record.
func reasoningSchema() map[string]any {
	schemaOnce.Do(buildSchemas)
	return reasoningSchemaV
}

// reflectSchema builds an inline (reference-free) JSON schema map for v.
func reflectSchema(v any) map[string]any {
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
