// ABOUTME: JSON schema reflection for tool parameter structs
// ABOUTME: Produces inline schemas without $ref or $id for function definitions

package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor returns the inline JSON schema of the input struct T.
func SchemaFor[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	var zero T
	schema := reflector.Reflect(&zero)
	schema.Version = ""
	schema.ID = ""

	data, err := json.Marshal(schema)
	if err != nil {
		// Reflected schemas of plain structs always marshal.
		panic(err)
	}
	return data
}
