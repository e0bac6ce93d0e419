package agent

import (
	"testing"

	"github.com/cexll/agentsdk-go/pkg/api"
	coreevents "github.com/cexll/agentsdk-go/pkg/core/events"
	"github.com/cexll/agentsdk-go/pkg/model"
)

func TestUsageFromResponse_Nil(t *testing.T) {
	if u := usageFromResponse(nil); u != nil {
		t.Errorf("nil response produced usage %+v", u)
	}
	if u := usageFromResponse(&api.Response{}); u != nil {
		t.Errorf("response without result produced usage %+v", u)
	}
}

func TestUsageFromResponse_ZeroUsageDegrades(t *testing.T) {
	resp := &api.Response{Result: &api.Result{Output: "hi"}}
	if u := usageFromResponse(resp); u != nil {
		t.Errorf("all-zero usage should degrade to nil, got %+v", u)
	}
}

func TestUsageFromResponse_MapsTokens(t *testing.T) {
	resp := &api.Response{
		Result: &api.Result{
			Output: "hi",
			Usage: model.Usage{
				InputTokens:     1200,
				OutputTokens:    300,
				CacheReadTokens: 800,
			},
		},
	}

	u := usageFromResponse(resp)
	if u == nil {
		t.Fatal("expected usage")
	}
	if u.InputTokens != 1200 || u.OutputTokens != 300 || u.CacheReadTokens != 800 {
		t.Errorf("usage = %+v", u)
	}
	if u.LastCallInputTokens != 1200 {
		t.Errorf("lastCallInputTokens = %d, want the final input size", u.LastCallInputTokens)
	}
	if u.Compacted {
		t.Error("no compaction event, Compacted should be false")
	}
}

func TestUsageFromResponse_CompactionEvent(t *testing.T) {
	resp := &api.Response{
		Result: &api.Result{Output: "hi"},
		HookEvents: []coreevents.Event{
			{Type: coreevents.SessionStart},
			{Type: coreevents.ContextCompacted},
		},
	}

	u := usageFromResponse(resp)
	if u == nil {
		t.Fatal("compaction alone should still produce usage")
	}
	if !u.Compacted {
		t.Error("Compacted not set from the event stream")
	}
}
