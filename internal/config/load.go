package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	rferrors "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/errors"
	"github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/rule"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedSchemaMajor is the catalog schema major version this engine reads.
const SupportedSchemaMajor = "v1"

// KindLookup is the part of a rule registry the validator needs.
type KindLookup interface {
	Get(kind string) (rule.Factory, error)
}

// LoadCatalog validates catalogYAML against the schema, decodes it
// strictly, gates the schema version and runs the structural checks. kinds
// may be nil to skip the rule type check.
func LoadCatalog(catalogYAML []byte, filePathHint string, kinds KindLookup) (*Catalog, error) {
	if len(bytes.TrimSpace(catalogYAML)) == 0 {
		return nil, rferrors.NewConfigError("catalog content cannot be empty", nil)
	}

	if err := ValidateWithSchema(catalogYAML); err != nil {
		return nil, rferrors.NewConfigError(fmt.Sprintf("catalog '%s' failed schema validation", filePathHint), err)
	}

	var catalog Catalog
	if err := yamlUnmarshalStrict(catalogYAML, &catalog); err != nil {
		return nil, rferrors.NewConfigError(fmt.Sprintf("failed to parse catalog YAML '%s'", filePathHint), err)
	}
	catalog.FilePath = filePathHint

	if err := checkSchemaVersion(catalog.SchemaVersion, filePathHint); err != nil {
		return nil, err
	}

	if errs := ValidateCatalogStructure(&catalog, kinds); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, vErr := range errs {
			msgs = append(msgs, vErr.Error())
		}
		combined := fmt.Sprintf("catalog '%s' has %d validation error(s):\n- %s",
			filePathHint, len(msgs), strings.Join(msgs, "\n- "))
		return nil, rferrors.NewValidationError(combined, errs[0])
	}
	return &catalog, nil
}

// LoadCatalogFromFile reads and loads a catalog from disk.
func LoadCatalogFromFile(filePath string, kinds KindLookup) (*Catalog, error) {
	if filePath == "" {
		return nil, rferrors.NewConfigError("catalog file path cannot be empty", nil)
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, rferrors.NewConfigError(fmt.Sprintf("failed to get absolute path for '%s'", filePath), err)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, rferrors.NewConfigError(fmt.Sprintf("failed to read catalog file '%s'", absPath), err)
	}
	return LoadCatalog(raw, absPath, kinds)
}

func checkSchemaVersion(version, filePathHint string) error {
	if version == "" {
		return rferrors.NewValidationError(fmt.Sprintf("catalog '%s' is missing required 'schemaVersion' field", filePathHint), nil)
	}
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return rferrors.NewValidationError(fmt.Sprintf("catalog '%s' has invalid 'schemaVersion' format: '%s'", filePathHint, version), nil)
	}
	if semver.Major(v) != SupportedSchemaMajor {
		return rferrors.NewValidationError(fmt.Sprintf("catalog '%s' schemaVersion '%s' is not compatible with engine requirement '%s'",
			filePathHint, version, SupportedSchemaMajor), nil)
	}
	return nil
}

// yamlUnmarshalStrict rejects fields that Catalog does not define.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(in))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("YAML parsing error: %w", err)
	}
	return nil
}
