package devices

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/KevinKickass/ScaleGate/internal/types"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/device-config-v1.json
var deviceConfigSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("device-config-v1.json",
		strings.NewReader(deviceConfigSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("device-config-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateConfig checks one raw device config document against the schema.
func (v *Validator) ValidateConfig(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.NewError(types.KindConfiguration, "invalid JSON", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return types.NewError(types.KindConfiguration, "schema validation failed", err)
	}

	return nil
}

// ValidateDevice checks cfg against the schema and resolves its protocol tag.
func (v *Validator) ValidateDevice(id string, cfg types.DeviceConfig) error {
	if strings.TrimSpace(id) == "" {
		return types.NewError(types.KindConfiguration, "device id is empty", nil)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return types.NewError(types.KindConfiguration, fmt.Sprintf("device %s", id), err)
	}
	if err := v.ValidateConfig(data); err != nil {
		return fmt.Errorf("device %s: %w", id, err)
	}

	if _, err := types.ParseDialect(cfg.Protocol); err != nil {
		return fmt.Errorf("device %s: %w", id, err)
	}
	return nil
}
