package task

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	mycerrors "github.com/mycelium-run/mycelium/internal/errors"
)

//go:embed schemas/manifest_schema.json
var manifestSchemaJSON string

const manifestSchemaURL = "mycelium://schemas/manifest_schema.json"

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func compiledManifestSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(manifestSchemaJSON), &doc); err != nil {
			compileErr = fmt.Errorf("parse manifest schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(manifestSchemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add manifest schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(manifestSchemaURL)
	})
	return compiledSchema, compileErr
}

// ValidateManifestJSON validates raw manifest.json bytes against the strict
// schema (additionalProperties: false rejects unknown keys, per spec §4.C2),
// then unmarshals into a Manifest. Schema errors and decode errors are both
// surfaced as *errors.MyceliumError with code TASK_ERROR.
func ValidateManifestJSON(raw []byte) (*Manifest, error) {
	schema, err := compiledManifestSchema()
	if err != nil {
		return nil, mycerrors.Wrap(mycerrors.CodeTaskInvalid, "manifest schema failed to compile", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, mycerrors.Wrap(mycerrors.CodeTaskInvalid, "manifest.json is not valid JSON", err)
	}

	if err := schema.Validate(doc); err != nil {
		return nil, mycerrors.Wrap(mycerrors.CodeTaskInvalid, "manifest.json failed schema validation", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, mycerrors.Wrap(mycerrors.CodeTaskInvalid, "manifest.json could not be decoded", err)
	}
	m.Locks = m.Locks.Normalize()
	return &m, nil
}
