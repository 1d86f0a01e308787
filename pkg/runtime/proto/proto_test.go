package proto

import (
	"encoding/json"
	"testing"
)

func TestStopReasonWireValues(t *testing.T) {
	payload, err := json.Marshal(SubscribeStopResponse{Reason: StopReasonStopped})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"reason":2}` {
		t.Fatalf("expected integer reason on the wire, got %s", payload)
	}
	if StopReasonEnded != 0 || StopReasonCrashed != 1 || StopReasonStopped != 2 {
		t.Fatalf("stop reason integers changed")
	}
}

func TestParseStopReason(t *testing.T) {
	for input, want := range map[string]StopReason{"ended": StopReasonEnded, "1": StopReasonCrashed, "Stopped": StopReasonStopped} {
		got, err := ParseStopReason(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %v, got %v", input, want, got)
		}
	}
	if _, err := ParseStopReason("paused"); err == nil {
		t.Fatalf("expected unknown reason to fail")
	}
}

func TestParseEnvironment(t *testing.T) {
	if env, err := ParseEnvironment(""); err != nil || env != EnvLocal {
		t.Fatalf("expected empty to default to local, got %q %v", env, err)
	}
	if env, err := ParseEnvironment("Deployment"); err != nil || env != EnvDeployment {
		t.Fatalf("expected deployment, got %q %v", env, err)
	}
	if _, err := ParseEnvironment("staging"); err == nil {
		t.Fatalf("expected unknown environment to fail")
	}
}
