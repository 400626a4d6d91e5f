package models

import (
	"encoding/json"
)

// Document is the shared calendar state that the whole system synchronizes.
// Event and vacation payloads are opaque to the server; their shape is owned
// by the callers. LastModified and Version are engine-assigned on every
// accepted write and never trusted from client input.
type Document struct {
	Events       map[string]json.RawMessage
	Vacations    map[string]json.RawMessage
	LastModified int64
	Version      int64

	// Top level keys we don't know about are carried through load/save
	// untouched so older data files survive newer writers.
	extra map[string]json.RawMessage
}

// NewDocument returns an empty document with both maps present.
func NewDocument() *Document {
	return &Document{
		Events:    make(map[string]json.RawMessage),
		Vacations: make(map[string]json.RawMessage),
	}
}

// HasShape reports whether both top-level maps are present. A document
// failing this is rejected by the engine, never partially stored.
func (d *Document) HasShape() bool {
	return d != nil && d.Events != nil && d.Vacations != nil
}

// Clone returns a copy safe to hand to callers. The map structure is copied;
// the raw payloads are immutable by convention and shared.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		Events:       make(map[string]json.RawMessage, len(d.Events)),
		Vacations:    make(map[string]json.RawMessage, len(d.Vacations)),
		LastModified: d.LastModified,
		Version:      d.Version,
	}
	for k, v := range d.Events {
		out.Events[k] = v
	}
	for k, v := range d.Vacations {
		out.Vacations[k] = v
	}
	if len(d.extra) > 0 {
		out.extra = make(map[string]json.RawMessage, len(d.extra))
		for k, v := range d.extra {
			out.extra[k] = v
		}
	}
	return out
}

func (d *Document) MarshalJSON() ([]byte, error) {
	events := d.Events
	if events == nil {
		events = map[string]json.RawMessage{}
	}
	vacations := d.Vacations
	if vacations == nil {
		vacations = map[string]json.RawMessage{}
	}

	out := make(map[string]json.RawMessage, len(d.extra)+4)
	for k, v := range d.extra {
		out[k] = v
	}

	var err error
	if out["events"], err = json.Marshal(events); err != nil {
		return nil, err
	}
	if out["vacations"], err = json.Marshal(vacations); err != nil {
		return nil, err
	}
	if out["lastModified"], err = json.Marshal(d.LastModified); err != nil {
		return nil, err
	}
	if out["version"], err = json.Marshal(d.Version); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = Document{}

	if v, ok := raw["events"]; ok {
		if err := json.Unmarshal(v, &d.Events); err != nil {
			return err
		}
		delete(raw, "events")
	}
	if v, ok := raw["vacations"]; ok {
		if err := json.Unmarshal(v, &d.Vacations); err != nil {
			return err
		}
		delete(raw, "vacations")
	}
	if v, ok := raw["lastModified"]; ok {
		// Invalid timestamps are treated as zero rather than rejected; the
		// engine reassigns this field on every accepted write anyway.
		_ = json.Unmarshal(v, &d.LastModified)
		delete(raw, "lastModified")
	}
	if v, ok := raw["version"]; ok {
		_ = json.Unmarshal(v, &d.Version)
		delete(raw, "version")
	}
	if len(raw) > 0 {
		d.extra = raw
	}
	return nil
}
