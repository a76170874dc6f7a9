package agentcard_test

import (
	"encoding/json"
	"testing"

	"github.com/agentvault/registry/pkg/agentcard"
)

func validCardJSON() []byte {
	return []byte(`{
		"schemaVersion": "1.0",
		"humanReadableId": "did:cos:abc123",
		"name": "Test Agent",
		"description": "an agent that does things",
		"url": "https://example.com/agent",
		"provider": {"organization": "Example Corp", "url": "https://example.com"},
		"capabilities": {"a2aVersion": "1.0"},
		"authSchemes": [{"scheme": "bearer"}]
	}`)
}

func TestDecode_valid(t *testing.T) {
	card, err := agentcard.Decode(validCardJSON())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if card.HumanReadableID != "did:cos:abc123" {
		t.Errorf("HumanReadableID: got %q", card.HumanReadableID)
	}
	if len(card.AuthSchemes) != 1 || card.AuthSchemes[0].Scheme != agentcard.AuthBearer {
		t.Errorf("AuthSchemes: got %+v", card.AuthSchemes)
	}
}

func TestDecode_ignoresUnknownFields(t *testing.T) {
	data := []byte(`{
		"schemaVersion": "1.0",
		"humanReadableId": "did:cos:abc123",
		"name": "Test Agent",
		"description": "an agent",
		"url": "https://example.com/agent",
		"capabilities": {"a2aVersion": "1.0"},
		"authSchemes": [{"scheme": "none"}],
		"somethingFromTheFuture": {"nested": true}
	}`)
	if _, err := agentcard.Decode(data); err != nil {
		t.Fatalf("unexpected error decoding card with unknown field: %v", err)
	}
}

func TestDecode_missingRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"missing schemaVersion", []byte(`{"humanReadableId":"x","name":"n","description":"d","url":"u","capabilities":{"a2aVersion":"1.0"},"authSchemes":[{"scheme":"none"}]}`)},
		{"missing humanReadableId", []byte(`{"schemaVersion":"1.0","name":"n","description":"d","url":"u","capabilities":{"a2aVersion":"1.0"},"authSchemes":[{"scheme":"none"}]}`)},
		{"missing name", []byte(`{"schemaVersion":"1.0","humanReadableId":"x","description":"d","url":"u","capabilities":{"a2aVersion":"1.0"},"authSchemes":[{"scheme":"none"}]}`)},
		{"missing capabilities.a2aVersion", []byte(`{"schemaVersion":"1.0","humanReadableId":"x","name":"n","description":"d","url":"u","capabilities":{},"authSchemes":[{"scheme":"none"}]}`)},
		{"missing authSchemes", []byte(`{"schemaVersion":"1.0","humanReadableId":"x","name":"n","description":"d","url":"u","capabilities":{"a2aVersion":"1.0"},"authSchemes":[]}`)},
		{"unrecognized auth scheme", []byte(`{"schemaVersion":"1.0","humanReadableId":"x","name":"n","description":"d","url":"u","capabilities":{"a2aVersion":"1.0"},"authSchemes":[{"scheme":"carrier-pigeon"}]}`)},
		{"oauth2 missing tokenUrl", []byte(`{"schemaVersion":"1.0","humanReadableId":"x","name":"n","description":"d","url":"u","capabilities":{"a2aVersion":"1.0"},"authSchemes":[{"scheme":"oauth2"}]}`)},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := agentcard.Decode(tc.data); err == nil {
				t.Error("expected validation error but got nil")
			}
		})
	}
}

func TestEncodeDecode_roundTrip(t *testing.T) {
	original, err := agentcard.Decode(validCardJSON())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	roundTripped, err := agentcard.Decode(encoded)
	if err != nil {
		t.Fatalf("decode encoded: %v", err)
	}

	a, _ := json.Marshal(original)
	b, _ := json.Marshal(roundTripped)
	if string(a) != string(b) {
		t.Errorf("round trip mismatch:\n got %s\nwant %s", b, a)
	}
}

func TestEncode_defaultsSchemaVersion(t *testing.T) {
	card := &agentcard.AgentCard{
		HumanReadableID: "did:cos:abc123",
		Name:            "Test Agent",
		Description:     "an agent",
		URL:             "https://example.com/agent",
		Capabilities:    agentcard.Capabilities{A2AVersion: "1.0"},
		AuthSchemes:     []agentcard.AuthScheme{{Scheme: agentcard.AuthNone}},
	}
	encoded, err := card.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["schemaVersion"] != agentcard.CurrentSchemaVersion {
		t.Errorf("schemaVersion: got %v, want %v", out["schemaVersion"], agentcard.CurrentSchemaVersion)
	}
}
