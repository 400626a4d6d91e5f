package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentRoundTripPreservesUnknownKeys(t *testing.T) {
	input := []byte(`{
		"events": {"e1": {"title": "standup"}},
		"vacations": {},
		"lastModified": 1700000000000,
		"version": 4,
		"futureField": {"nested": true}
	}`)

	var doc Document
	require.NoError(t, json.Unmarshal(input, &doc))

	assert.Equal(t, int64(4), doc.Version)
	assert.Equal(t, int64(1700000000000), doc.LastModified)
	assert.Len(t, doc.Events, 1)
	assert.Len(t, doc.Vacations, 0)

	out, err := json.Marshal(&doc)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.Contains(t, raw, "futureField")
	assert.JSONEq(t, `{"nested": true}`, string(raw["futureField"]))
}

func TestDocumentUnmarshalShapes(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		wantErr   bool
		wantShape bool
	}{
		{
			name:      "complete document",
			input:     `{"events":{},"vacations":{}}`,
			wantShape: true,
		},
		{
			name:      "missing vacations",
			input:     `{"events":{}}`,
			wantShape: false,
		},
		{
			name:      "null events",
			input:     `{"events":null,"vacations":{}}`,
			wantShape: false,
		},
		{
			name:    "events is not a map",
			input:   `{"events":[1,2],"vacations":{}}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			input:   `42`,
			wantErr: true,
		},
		{
			name:      "invalid version tolerated",
			input:     `{"events":{},"vacations":{},"version":"seven"}`,
			wantShape: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var doc Document
			err := json.Unmarshal([]byte(tc.input), &doc)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantShape, doc.HasShape())
		})
	}
}

func TestDocumentCloneIsIndependent(t *testing.T) {
	doc := NewDocument()
	doc.Events["e1"] = json.RawMessage(`{"title":"a"}`)
	doc.Version = 3

	clone := doc.Clone()
	clone.Events["e2"] = json.RawMessage(`{"title":"b"}`)
	clone.Version = 9

	assert.Len(t, doc.Events, 1)
	assert.Equal(t, int64(3), doc.Version)
	assert.Len(t, clone.Events, 2)
}

func TestEnvelopeOmitsAbsentFields(t *testing.T) {
	out, err := json.Marshal(Envelope{Type: MsgPong, Timestamp: 123})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.Contains(t, raw, "type")
	assert.Contains(t, raw, "timestamp")
	assert.NotContains(t, raw, "data")
	assert.NotContains(t, raw, "message")
	assert.NotContains(t, raw, "clients")
}
