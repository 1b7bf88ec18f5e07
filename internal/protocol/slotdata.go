package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/slot_data.schema.json
var slotDataSchemaJSON string

var (
	slotDataOnce   sync.Once
	slotDataSchema *jsonschema.Schema
	slotDataErr    error
)

func compiledSlotDataSchema() (*jsonschema.Schema, error) {
	slotDataOnce.Do(func() {
		slotDataSchema, slotDataErr = jsonschema.CompileString("slot_data.schema.json", slotDataSchemaJSON)
	})
	return slotDataSchema, slotDataErr
}

// Toggle is an apworld option that arrives as 0/1 or as a JSON bool.
type Toggle bool

func (t *Toggle) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "null", "false", "0":
		*t = false
		return nil
	case "true":
		*t = true
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("toggle: %w", err)
	}
	*t = n != 0
	return nil
}

// SlotData is the MetroCUBEvania slot_data document. Absent keys are off.
type SlotData struct {
	DeathLink        Toggle `json:"DeathLink"`
	DeathLinkAmnesty int    `json:"DeathLink_Amnesty"`
	MedalHunt        Toggle `json:"MedalHunt"`
	ExtraCheckpoint  Toggle `json:"ExtraCheckpoint"`
	ExtraChecks      Toggle `json:"ExtraChecks"`
}

// ParseSlotData validates raw against the embedded schema and decodes it.
func ParseSlotData(raw json.RawMessage) (SlotData, error) {
	var sd SlotData
	if len(raw) == 0 || string(raw) == "null" {
		return sd, fmt.Errorf("slot_data missing")
	}
	schema, err := compiledSlotDataSchema()
	if err != nil {
		return sd, fmt.Errorf("slot_data schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return sd, fmt.Errorf("slot_data: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return sd, fmt.Errorf("slot_data: %w", err)
	}
	if err := json.Unmarshal(raw, &sd); err != nil {
		return sd, fmt.Errorf("slot_data: %w", err)
	}
	return sd, nil
}
