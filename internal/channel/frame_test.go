package channel

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lawik/hub_link_agent/internal/agenterr"
)

func ref(s string) *string { return &s }

func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		{JoinRef: ref("1"), Ref: ref("1"), Topic: "device:SN", Event: "phx_join", Payload: map[string]any{"nerves_fw_uuid": "u"}},
		{JoinRef: nil, Ref: ref("42"), Topic: "phoenix", Event: "heartbeat", Payload: map[string]any{}},
		{JoinRef: nil, Ref: nil, Topic: "device:SN", Event: "update", Payload: map[string]any{"firmware_url": "https://x"}},
	}

	for _, want := range cases {
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncode_EmptyPayloadIsObjectNotOmitted(t *testing.T) {
	data, err := Encode(Frame{Topic: "device:SN", Event: "rebooting"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `[null,null,"device:SN","rebooting",{}]`
	if string(data) != want {
		t.Errorf("Encode = %s, want %s", data, want)
	}
}

func TestEncode_RefEncodedAsString(t *testing.T) {
	data, err := Encode(Frame{JoinRef: ref("1"), Ref: ref("1"), Topic: "t", Event: "e", Payload: map[string]any{}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `["1","1","t","e",{}]`
	if string(data) != want {
		t.Errorf("Encode = %s, want %s", data, want)
	}
}

func TestDecode_RejectsNonArray(t *testing.T) {
	_, err := Decode([]byte(`{"not":"an array"}`))
	if !agenterr.Is(err, agenterr.ProtocolMalformed) {
		t.Fatalf("want ProtocolMalformed, got %v", err)
	}
}

func TestDecode_RejectsWrongLength(t *testing.T) {
	_, err := Decode([]byte(`["1","1","t","e"]`))
	if !agenterr.Is(err, agenterr.ProtocolMalformed) {
		t.Fatalf("want ProtocolMalformed, got %v", err)
	}
}

// TestDecode_ScenarioMalformedPayload rejects a scalar payload.
func TestDecode_ScenarioMalformedPayload(t *testing.T) {
	_, err := Decode([]byte(`["1","1","device:SN","phx_reply",42]`))
	if !agenterr.Is(err, agenterr.ProtocolMalformed) {
		t.Fatalf("want ProtocolMalformed, got %v", err)
	}
}

func TestDecode_RejectsNumericRef(t *testing.T) {
	_, err := Decode([]byte(`[1,"1","t","e",{}]`))
	if !agenterr.Is(err, agenterr.ProtocolMalformed) {
		t.Fatalf("want ProtocolMalformed, got %v", err)
	}
}

func TestDecode_RejectsArrayPayload(t *testing.T) {
	_, err := Decode([]byte(`[null,null,"t","e",[1,2]]`))
	if !agenterr.Is(err, agenterr.ProtocolMalformed) {
		t.Fatalf("want ProtocolMalformed, got %v", err)
	}
}

func TestDecode_AcceptsNullRefs(t *testing.T) {
	f, err := Decode([]byte(`[null,null,"phoenix","heartbeat",{}]`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.JoinRef != nil || f.Ref != nil {
		t.Errorf("expected nil refs, got join_ref=%v ref=%v", f.JoinRef, f.Ref)
	}
}

func TestJoinFrame_RoundTripByteIdentical(t *testing.T) {
	f := Frame{
		JoinRef: ref("1"),
		Ref:     ref("1"),
		Topic:   "device:SN",
		Event:   "phx_join",
		Payload: map[string]any{
			"device_api_version": "2.3.0",
			"fwup_version":       "1.10.2",
			"nerves_fw_uuid":     "uuid",
			"nerves_fw_version":  "1.0.0",
			"nerves_fw_platform": "rpi4",
			"nerves_fw_architecture": "arm",
			"nerves_fw_product":     "widget",
		},
	}

	first, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(first)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	second, err := Encode(decoded)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("re-encode mismatch:\n first:  %s\n second: %s", first, second)
	}
}
