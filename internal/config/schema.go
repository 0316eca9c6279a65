package config

import (
	_ "embed"
	"fmt"
	"sync"

	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed ruleflow_catalog_v1.json
var schemaV1Bytes []byte

var (
	schemaV1   *gojsonschema.Schema
	schemaOnce sync.Once
	schemaErr  error
)

// loadSchema compiles the embedded schema once.
func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(schemaV1Bytes) == 0 {
			schemaErr = rferrors.NewConfigError("embedded catalog schema is empty", nil)
			return
		}
		schemaV1, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaV1Bytes))
		if schemaErr != nil {
			schemaErr = rferrors.NewConfigError("failed to compile embedded catalog schema", schemaErr)
		}
	})
	return schemaV1, schemaErr
}

// ValidateWithSchema checks a catalog YAML document against the embedded
// v1 JSON schema.
func ValidateWithSchema(documentYAML []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	// gojsonschema wants JSON-shaped data; yaml.v3 already decodes mappings
	// into map[string]interface{}.
	var doc interface{}
	if err := yaml.Unmarshal(documentYAML, &doc); err != nil {
		return rferrors.NewConfigError("failed to parse catalog YAML for schema validation", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return rferrors.NewConfigError("schema validation process failed", err)
	}
	if result.Valid() {
		return nil
	}
	errMsg := "catalog failed JSON schema validation:"
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "(root)" || field == "" {
			field = desc.Context().String()
		}
		errMsg += fmt.Sprintf("\n  - Field '%s': %s", field, desc.Description())
	}
	return rferrors.NewValidationError(errMsg, nil)
}
