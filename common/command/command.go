// Package command builds and replays the serialized commands stored on undo
// actions. The undo tree never calls into this package; callers use it to
// turn an action's Forward or Reverse command into a new entity document.
package command

import (
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/x121/undotree/common/undo"
)

const (
	// TypeMergePatch payloads are RFC 7386 merge patches
	TypeMergePatch = "merge_patch"

	// TypeJSONPatch payloads are RFC 6902 operation arrays
	TypeJSONPatch = "json_patch"
)

// ErrUnsupportedCommand is returned by Apply for unknown command types
var ErrUnsupportedCommand = errors.New("unsupported command type")

// NewMergePatchAction builds an action whose forward command turns before
// into after and whose reverse command turns after back into before
func NewMergePatchAction(actionType, label string, before, after []byte) (undo.Action, error) {
	forward, err := jsonpatch.CreateMergePatch(before, after)
	if err != nil {
		return undo.Action{}, fmt.Errorf("failed to create forward patch: %w", err)
	}

	reverse, err := jsonpatch.CreateMergePatch(after, before)
	if err != nil {
		return undo.Action{}, fmt.Errorf("failed to create reverse patch: %w", err)
	}

	return undo.Action{
		Type:    actionType,
		Label:   label,
		Forward: undo.SerializedCommand{Type: TypeMergePatch, Payload: forward},
		Reverse: undo.SerializedCommand{Type: TypeMergePatch, Payload: reverse},
	}, nil
}

// Apply runs cmd against the JSON document doc and returns the result
func Apply(doc []byte, cmd undo.SerializedCommand) ([]byte, error) {
	switch cmd.Type {
	case TypeMergePatch:
		out, err := jsonpatch.MergePatch(doc, cmd.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to apply merge patch: %w", err)
		}
		return out, nil

	case TypeJSONPatch:
		patch, err := jsonpatch.DecodePatch(cmd.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode patch: %w", err)
		}

		out, err := patch.Apply(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to apply patch operations: %w", err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd.Type)
	}
}
