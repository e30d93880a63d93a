package eventcore

import "testing"

func TestCombineResponses_EmptyIsSuccess(t *testing.T) {
	got := combineResponses(nil)
	if !got.Success {
		t.Error("expected empty response list to combine to success")
	}
}

func TestCombineResponses_FirstFailureWins(t *testing.T) {
	got := combineResponses([]EventResponse{
		{Success: true, Data: map[string]interface{}{"a": 1}},
		{Success: false, Message: "boom"},
		{Success: true, Data: map[string]interface{}{"b": 2}},
	})
	if got.Success {
		t.Fatal("expected combined response to fail")
	}
	if got.Message != "boom" {
		t.Errorf("Message = %q, want boom", got.Message)
	}
}

func TestCombineResponses_MergesDataOnSuccess(t *testing.T) {
	got := combineResponses([]EventResponse{
		{Success: true, Data: map[string]interface{}{"a": 1}},
		{Success: true, Data: map[string]interface{}{"b": 2}},
	})
	if !got.Success {
		t.Fatal("expected combined response to succeed")
	}
	if got.Data["a"] != 1 || got.Data["b"] != 2 {
		t.Errorf("Data = %v, want merged a and b", got.Data)
	}
}
