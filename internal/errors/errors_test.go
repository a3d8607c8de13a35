package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCategoryHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidation, 400},
		{CodeNotFound, 404},
		{CodeIllegalTransition, 409},
		{CodeWrongAgent, 409},
		{CodeStaleVersion, 409},
		{CodePermissionDenied, 403},
		{CodeTransport, 503},
		{CodeFatal, 500},
		{Code("SOMETHING_ELSE"), 500},
	}

	for _, tt := range tests {
		e := &Error{Code: tt.code, What: "x"}
		if got := e.HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	e := ErrNotFound("task", "TASK-001")
	want := "task not found: no task with id TASK-001"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	wrapped := e.WithCause(fmt.Errorf("sql: no rows"))
	if wrapped.Error() != want+": sql: no rows" {
		t.Errorf("Error() with cause = %q", wrapped.Error())
	}
	if !stderrors.Is(wrapped, e) {
		t.Error("wrapped error should match original by code")
	}
}

func TestPermissionDeniedDetails(t *testing.T) {
	e := ErrPermissionDenied(4, 3)
	if e.Details["required"] != 4 || e.Details["given"] != 3 {
		t.Errorf("Details = %v, want required=4 given=3", e.Details)
	}
}

func TestHasCode(t *testing.T) {
	e := fmt.Errorf("outer: %w", ErrStaleVersion("task", "TASK-001", 3))
	if !HasCode(e, CodeStaleVersion) {
		t.Error("HasCode should see through wrapping")
	}
	if HasCode(e, CodeNotFound) {
		t.Error("HasCode matched wrong code")
	}
	if HasCode(fmt.Errorf("plain"), CodeStaleVersion) {
		t.Error("HasCode matched plain error")
	}
}

func TestMarshalJSON(t *testing.T) {
	e := ErrWrongAgent("TASK-001", "agent-a", "agent-b").WithCause(fmt.Errorf("boom"))
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["code"] != string(CodeWrongAgent) {
		t.Errorf("code = %v, want %s", decoded["code"], CodeWrongAgent)
	}
	if decoded["cause"] != "boom" {
		t.Errorf("cause = %v, want boom", decoded["cause"])
	}
}
