package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/x121/undotree/common/undo"
)

func TestValidateTreeShape(t *testing.T) {
	blob, _ := treeBlob(t)

	valid := []string{
		`{}`,
		string(blob),
		`{"nodes":{},"rootId":"r","currentNodeId":"r"}`,
	}
	for _, raw := range valid {
		assert.NoError(t, validateTreeShape(json.RawMessage(raw)), raw)
	}

	invalid := []string{
		`[]`,
		`null`,
		`"tree"`,
		`{"nodes":[]}`,
		`{"nodes":{}}`,
		`{"nodes":{"a":{"id":"a","action":{"type":"init"}}},"rootId":7,"currentNodeId":"a"}`,
		`{"nodes":{"a":{"id":"a"}},"rootId":"a","currentNodeId":"a"}`,
		`{"nodes":{"a":{"id":"a","action":{"type":"init"},"children":[1]}},"rootId":"a","currentNodeId":"a"}`,
		`{"nodes":`,
	}
	for _, raw := range invalid {
		assert.ErrorIs(t, validateTreeShape(json.RawMessage(raw)), undo.ErrInvalidTreeJSON, raw)
	}
}
