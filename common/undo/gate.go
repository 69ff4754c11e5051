package undo

// NonUndoableActions are action types whose effects cannot be reversed.
// Callers confirm with the user before pushing one; the tree itself stores
// them like any other action.
var NonUndoableActions = []string{
	"completed_generation",
	"disk_reclamation",
	"audit_log_entry",
}

// IsNonUndoable reports whether actionType cannot be undone
func IsNonUndoable(actionType string) bool {
	for _, t := range NonUndoableActions {
		if t == actionType {
			return true
		}
	}
	return false
}
