package main

import (
	"bytes"
	"encoding/json"

	"github.com/ssau-fiit/cloudocs-sync/changes"
	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/ops"
)

type CreateDocRequest struct {
	Name   string `json:"name"`
	Author string `json:"author"`
	// Text starts a plain text document. Value, when set, wins and holds
	// any tagged value.
	Text  string          `json:"text"`
	Value json.RawMessage `json:"value"`
}

// Initial returns the starting value of the document. A missing or null
// Value falls back to Text.
func (r CreateDocRequest) Initial() (changes.Value, error) {
	raw := bytes.TrimSpace(r.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return changes.Text(r.Text), nil
	}
	return changes.UnmarshalValue(raw)
}

type WriteOpsRequest struct {
	Ops []ops.Operation `json:"ops"`
}

type DocumentResponse struct {
	database.Document
	Version  int             `json:"version"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Desync string `json:"desync,omitempty"`
}
