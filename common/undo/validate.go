package undo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ValidEntityTypes are the entity types that carry undo trees
var ValidEntityTypes = []string{"character", "scene", "segment", "project"}

// EntityKey addresses one persisted tree for the current user
type EntityKey struct {
	Type string
	ID   int64
}

func (k EntityKey) String() string {
	return fmt.Sprintf("%s/%d", k.Type, k.ID)
}

// ValidateEntityType rejects entity types without undo support
func ValidateEntityType(entityType string) error {
	for _, t := range ValidEntityTypes {
		if t == entityType {
			return nil
		}
	}
	return fmt.Errorf("%w '%s'. Must be one of: %s",
		ErrInvalidEntityType, entityType, strings.Join(ValidEntityTypes, ", "))
}

// ValidateTreeJSON checks that raw is a JSON object (not null, array, string, ...)
func ValidateTreeJSON(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTreeJSON, err)
	}
	if _, ok := v.(map[string]any); !ok {
		return ErrInvalidTreeJSON
	}
	return nil
}

// ParseData decodes a persisted tree blob. An empty object yields nil, nil;
// anything else must decode and pass structural validation.
func ParseData(raw json.RawMessage) (*Data, error) {
	if err := ValidateTreeJSON(raw); err != nil {
		return nil, err
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("{}")) {
		return nil, nil
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTree, err)
	}
	if data.IsEmpty() {
		return nil, nil
	}
	if err := validate(data); err != nil {
		return nil, err
	}

	return &data, nil
}
