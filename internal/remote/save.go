package remote

import (
	"encoding/json"
	"strings"
)

// FieldChange is a triggering field value captured from an outgoing job save.
type FieldChange struct {
	JobID     string
	JobNumber string
	Value     string
}

type saveEnvelope struct {
	Entities []map[string]json.RawMessage `json:"entities"`
}

type aspectHeader struct {
	EntityTypeName string `json:"entityTypeName"`
}

// ParseJobFieldSave inspects a SaveChanges request body. It reports ok only
// when the first saved entity is a job that carries the triggering field.
// A null field value is reported as empty; a non-string value is reported
// as its raw JSON text so date validation rejects it.
func ParseJobFieldSave(body []byte) (FieldChange, bool, error) {
	var env saveEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return FieldChange{}, false, err
	}
	if len(env.Entities) == 0 {
		return FieldChange{}, false, nil
	}
	entity := env.Entities[0]

	var aspect aspectHeader
	if raw, ok := entity["entityAspect"]; ok {
		if err := json.Unmarshal(raw, &aspect); err != nil {
			return FieldChange{}, false, err
		}
	}
	if aspect.EntityTypeName != JobEntityType {
		return FieldChange{}, false, nil
	}

	rawValue, ok := entity[TriggerField]
	if !ok {
		return FieldChange{}, false, nil
	}

	change := FieldChange{
		JobID:     stringField(entity, "Id"),
		JobNumber: stringField(entity, "JobNumber"),
		Value:     fieldText(rawValue),
	}
	return change, true, nil
}

func stringField(entity map[string]json.RawMessage, key string) string {
	raw, ok := entity[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func fieldText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return trimmed
}
