package models

import (
	"encoding/json"
	"fmt"
)

// OptionsVersion is the current serialization version of SyncOptions.
const OptionsVersion = 1

// SyncOptions controls which existing objects are dropped or emptied before
// the pipeline objects are created.
type SyncOptions struct {
	RecreateIntermediateSource bool `json:"recreate_intermediate_source"`
	RecreateWarehouseTable     bool `json:"recreate_warehouse_table"`
	TruncateWarehouseTable     bool `json:"truncate_warehouse_table"`
}

// Normalize drops TruncateWarehouseTable when RecreateWarehouseTable is set,
// since recreation already leaves the table empty.
func (o SyncOptions) Normalize() SyncOptions {
	if o.RecreateWarehouseTable {
		o.TruncateWarehouseTable = false
	}
	return o
}

type optionsEnvelope struct {
	Version int `json:"version"`
	SyncOptions
}

// EncodeOptions serializes o with the current version tag.
func EncodeOptions(o SyncOptions) (string, error) {
	b, err := json.Marshal(optionsEnvelope{Version: OptionsVersion, SyncOptions: o})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeOptions parses a stored options blob. A blob without a version is
// read as version 1; any other version is rejected.
func DecodeOptions(blob string) (SyncOptions, error) {
	if blob == "" {
		return SyncOptions{}, fmt.Errorf("empty options blob")
	}
	var env optionsEnvelope
	if err := json.Unmarshal([]byte(blob), &env); err != nil {
		return SyncOptions{}, fmt.Errorf("decode options: %w", err)
	}
	if env.Version == 0 {
		env.Version = 1
	}
	if env.Version != OptionsVersion {
		return SyncOptions{}, fmt.Errorf("unsupported options version %d", env.Version)
	}
	return env.SyncOptions, nil
}
