package jobqueue

import (
	"encoding/json"

	"github.com/xeipuuv/gojsonschema"

	xerrors "github.com/streamrec/core/errors"
)

// ValidateNodeConfig checks a DagNodeTemplate/DagNode's Config map
// against schema (a JSON-schema document), the same validation shape
// the HTTP layer's body-schema check uses but applied at DAG-submission
// time instead of a request boundary — event-hook templates are
// submitted well before any node actually runs, so catching a malformed
// processor config here means the DAG never starts rather than failing
// midway through.
func ValidateNodeConfig(schema []byte, config map[string]any) error {
	schemaLoader := gojsonschema.NewBytesLoader(schema)
	docBytes, err := json.Marshal(config)
	if err != nil {
		return xerrors.Unretriable(err)
	}
	docLoader := gojsonschema.NewBytesLoader(docBytes)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return xerrors.Unretriable(err)
	}
	if !result.Valid() {
		return xerrors.NewSchemaValidationError("dag node config", result.Errors())
	}
	return nil
}
