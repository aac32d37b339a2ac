// Package ops carries changes over the network. An Operation is a change
// stamped with its author's id, the server version it was accepted at and
// the version it was written against. The Transformer rebases operations
// that were written against an older version onto the one just before them.
package ops

import (
	"encoding/json"
	"fmt"

	"github.com/ssau-fiit/cloudocs-sync/changes"
)

// Unacknowledged is the version of an operation the server has not accepted.
const Unacknowledged = -1

// Operation is a change in the shared op log.
type Operation struct {
	ID string
	// ParentID names the previous unacknowledged operation by the same
	// author, if any. Empty when the operation has no parent.
	ParentID string
	Version  int
	Basis    int
	Change   changes.Change
}

func (o Operation) String() string {
	return fmt.Sprintf("op %s@%d (basis %d, parent %q): %v", o.ID, o.Version, o.Basis, o.ParentID, o.Change)
}

// Merge transforms o and other, o being the earlier one. Identity, version
// and basis stay with each side; only the change payloads are rewritten.
// It returns (other', o').
func (o Operation) Merge(other Operation) (Operation, Operation) {
	otherP, oP := changes.Merge(o.Change, other.Change)
	other.Change, o.Change = otherP, oP
	return other, o
}

// MarshalJSON encodes the operation as [id, parentId|null, version, basis, change].
func (o Operation) MarshalJSON() ([]byte, error) {
	var parent any
	if o.ParentID != "" {
		parent = o.ParentID
	}
	return json.Marshal([]any{o.ID, parent, o.Version, o.Basis, o.Change})
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode operation: %w", err)
	}
	if len(fields) != 5 {
		return fmt.Errorf("decode operation: %d fields, want 5", len(fields))
	}

	var (
		op     Operation
		parent *string
	)
	if err := json.Unmarshal(fields[0], &op.ID); err != nil {
		return fmt.Errorf("decode operation id: %w", err)
	}
	if err := json.Unmarshal(fields[1], &parent); err != nil {
		return fmt.Errorf("decode operation parent: %w", err)
	}
	if parent != nil {
		op.ParentID = *parent
	}
	if err := json.Unmarshal(fields[2], &op.Version); err != nil {
		return fmt.Errorf("decode operation version: %w", err)
	}
	if err := json.Unmarshal(fields[3], &op.Basis); err != nil {
		return fmt.Errorf("decode operation basis: %w", err)
	}
	c, err := changes.UnmarshalChange(fields[4])
	if err != nil {
		return fmt.Errorf("decode operation %s: %w", op.ID, err)
	}
	op.Change = c
	*o = op
	return nil
}
