package tasks

import "testing"

func TestStateAccessors(t *testing.T) {
	td := &TaskDefinition{TaskID: "t1"}
	td.MergeState(map[string]any{"next_service_index": 2, "note": "hi"})

	if got := td.StateInt("next_service_index"); got != 2 {
		t.Fatalf("got %d", got)
	}
	if got := td.StateString("note"); got != "hi" {
		t.Fatalf("got %q", got)
	}
	if got := td.StateInt("missing"); got != 0 {
		t.Fatalf("got %d", got)
	}

	// State round-tripped through JSON arrives as float64.
	td.State["next_service_index"] = float64(3)
	if got := td.StateInt("next_service_index"); got != 3 {
		t.Fatalf("got %d", got)
	}
}

func TestMergeStateCreatesMap(t *testing.T) {
	td := &TaskDefinition{TaskID: "t1"}
	td.MergeState(map[string]any{"a": 1})
	if td.State == nil || td.State["a"] != 1 {
		t.Fatalf("got %+v", td.State)
	}
}
