package importer

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
)

type RestoreAction string

const (
	RestoreCreated RestoreAction = "created"
	RestoreUpdated RestoreAction = "updated"
)

// RestoreEntry is one undo-log unit. For RestoreCreated, CreatedID names the
// new record; for RestoreUpdated, PreImage maps the record id to its field
// values before the update.
type RestoreEntry struct {
	Action     RestoreAction
	EntityType string
	CreatedID  string
	PreImage   map[string]*NormalizedRecord
}

// Created builds the undo entry of an insert.
func Created(entityType, id string) RestoreEntry {
	return RestoreEntry{Action: RestoreCreated, EntityType: entityType, CreatedID: id}
}

// Updated builds the undo entry of an update.
func Updated(entityType, id string, pre *NormalizedRecord) RestoreEntry {
	return RestoreEntry{Action: RestoreUpdated, EntityType: entityType, PreImage: map[string]*NormalizedRecord{id: pre}}
}

// PreImageIDs returns the ids covered by an updated entry, sorted.
func (e RestoreEntry) PreImageIDs() []string {
	ids := make([]string, 0, len(e.PreImage))
	for id := range e.PreImage {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type restoreEntryJSON struct {
	Action     RestoreAction `json:"action"`
	EntityType string        `json:"entity_type"`
	Data       any           `json:"data"`
}

func (e RestoreEntry) MarshalJSON() ([]byte, error) {
	out := restoreEntryJSON{Action: e.Action, EntityType: e.EntityType}
	switch e.Action {
	case RestoreCreated:
		out.Data = e.CreatedID
	case RestoreUpdated:
		data := make(orderedPreImages, 0, len(e.PreImage))
		for _, id := range e.PreImageIDs() {
			data = append(data, preImage{id: id, rec: e.PreImage[id]})
		}
		out.Data = data
	default:
		return nil, fmt.Errorf("unknown restore action %q", e.Action)
	}
	return json.Marshal(out)
}

func (e *RestoreEntry) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid restore entry JSON")
	}
	parsed := gjson.ParseBytes(data)
	*e = RestoreEntry{
		Action:     RestoreAction(parsed.Get("action").String()),
		EntityType: parsed.Get("entity_type").String(),
	}
	payload := parsed.Get("data")
	switch e.Action {
	case RestoreCreated:
		if payload.Type != gjson.String && payload.Type != gjson.Number {
			return fmt.Errorf("created restore entry needs an id, got %s", payload.Raw)
		}
		e.CreatedID = payload.String()
	case RestoreUpdated:
		if !payload.IsObject() {
			return fmt.Errorf("updated restore entry needs a pre-image object")
		}
		e.PreImage = make(map[string]*NormalizedRecord)
		var decodeErr error
		payload.ForEach(func(id, raw gjson.Result) bool {
			rec := NewRecord()
			if err := rec.UnmarshalJSON([]byte(raw.Raw)); err != nil {
				decodeErr = fmt.Errorf("pre-image %s: %w", id.String(), err)
				return false
			}
			e.PreImage[id.String()] = rec
			return true
		})
		if decodeErr != nil {
			return decodeErr
		}
	default:
		return fmt.Errorf("unknown restore action %q", e.Action)
	}
	return nil
}

// ParseRestoreLog decodes a JSON array of restore entries.
func ParseRestoreLog(data []byte) ([]RestoreEntry, error) {
	var entries []RestoreEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode restore log: %w", err)
	}
	return entries, nil
}

type preImage struct {
	id  string
	rec *NormalizedRecord
}

type orderedPreImages []preImage

func (p orderedPreImages) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, item := range p {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(item.id)
		if err != nil {
			return nil, err
		}
		rec := item.rec
		if rec == nil {
			rec = NewRecord()
		}
		vb, err := rec.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	return append(buf, '}'), nil
}

type OutcomeKind string

const (
	OutcomeCreate OutcomeKind = "create"
	OutcomeUpdate OutcomeKind = "update"
	OutcomeError  OutcomeKind = "error"
)

// OutcomeLogEntry is the immutable audit record of one row attempt.
type OutcomeLogEntry struct {
	EntityType string      `json:"entity_type"`
	JobID      string      `json:"job_id"`
	Kind       OutcomeKind `json:"kind"`
	RowNumber  int         `json:"row_number"`
	RecordID   string      `json:"record_id,omitempty"`
	Message    string      `json:"message,omitempty"`
}
