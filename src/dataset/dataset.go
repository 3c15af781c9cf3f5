// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package dataset

import (
	"encoding/json"
	"fmt"
	"os"

	"resqenv/src/model"
)

// Dataset is an id-indexed, read-only collection of benchmark tasks.
type Dataset struct {
	records []model.TaskRecord
	byID    map[string]model.TaskRecord
}

// New validates every record and indexes them by id.
func New(records []model.TaskRecord) (*Dataset, error) {
	byID := make(map[string]model.TaskRecord, len(records))
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[rec.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %q in dataset", rec.ID)
		}
		byID[rec.ID] = rec
	}
	return &Dataset{records: records, byID: byID}, nil
}

// FromJSON loads a dataset from a JSON file holding an array of task records.
func FromJSON(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset file: %w", err)
	}
	var records []model.TaskRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse dataset file %s: %w", path, err)
	}
	return New(records)
}

// Get returns the task with the given id.
func (d *Dataset) Get(id string) (model.TaskRecord, bool) {
	rec, ok := d.byID[id]
	return rec, ok
}

// Tasks returns the records in load order.
func (d *Dataset) Tasks() []model.TaskRecord {
	out := make([]model.TaskRecord, len(d.records))
	copy(out, d.records)
	return out
}

// Len reports the number of tasks.
func (d *Dataset) Len() int { return len(d.records) }
