package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, CodeStoreUnavailable, "write failed")

	if !errors.Is(err, cause) {
		t.Errorf("Wrapped cause not reachable via errors.Is")
	}
	if !IsCode(err, CodeStoreUnavailable) {
		t.Errorf("Code lost in wrap")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Cause missing from message: %s", err.Error())
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := QuotaExceeded("acme", 4)
	outer := fmt.Errorf("submit failed: %w", inner)

	if !IsCode(outer, CodeQuotaExceeded) {
		t.Errorf("IsCode must see through fmt wrapping")
	}
	if IsCode(outer, CodeInvalidStep) {
		t.Errorf("Wrong code matched")
	}
	if GetCode(outer) != CodeQuotaExceeded {
		t.Errorf("GetCode wrong: %s", GetCode(outer))
	}
}

func TestGetCodeUnknownForForeignErrors(t *testing.T) {
	if GetCode(errors.New("plain")) != CodeUnknown {
		t.Errorf("Foreign errors must map to CodeUnknown")
	}
	if IsCode(nil, CodeUnknown) {
		t.Errorf("nil must not match any code")
	}
}

func TestWithContext(t *testing.T) {
	err := New(CodeColumnMissing, "no such column").
		WithContext("column", "amount").
		WithContext("row", 7)

	msg := err.Error()
	if !strings.Contains(msg, "E202") {
		t.Errorf("Code missing from message: %s", msg)
	}
	if err.Context["column"] != "amount" || err.Context["row"] != 7 {
		t.Errorf("Context not recorded: %v", err.Context)
	}
}

func TestIsSessionFatal(t *testing.T) {
	fatal := StepExecution("impute_nulls", 2, errors.New("boom"))
	if !IsSessionFatal(fatal) {
		t.Errorf("Step execution failure must be fatal")
	}

	for _, err := range []error{
		QuotaExceeded("acme", 4),
		NothingToUndo("s1"),
		InvalidTransition("committed", "submit"),
		StoreUnavailable("s3", errors.New("timeout")),
	} {
		if IsSessionFatal(err) {
			t.Errorf("%v must not freeze the session", err)
		}
	}
}

func TestConstructorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code Code
	}{
		{InvalidStep("x", "bad"), CodeInvalidStep},
		{InvalidTransition("error", "submit"), CodeInvalidTransition},
		{NothingToUndo("s"), CodeNothingToUndo},
		{QuotaExceeded("t", 1), CodeQuotaExceeded},
		{ColumnMissing("c", []string{"a"}), CodeColumnMissing},
		{StoreUnavailable("local", errors.New("x")), CodeStoreUnavailable},
	}
	for _, c := range cases {
		if GetCode(c.err) != c.code {
			t.Errorf("Expected %s, got %s for %v", c.code, GetCode(c.err), c.err)
		}
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.HasErrors() {
		t.Errorf("Empty MultiError reports errors")
	}
	if m.Combined() != nil {
		t.Errorf("Empty Combined must be nil")
	}

	m.Add(nil)
	if m.HasErrors() {
		t.Errorf("Adding nil must be a no-op")
	}

	m.Add(errors.New("first"))
	m.Add(errors.New("second"))
	if !m.HasErrors() {
		t.Fatalf("Errors not recorded")
	}
	combined := m.Combined()
	if combined == nil || !strings.Contains(combined.Error(), "first") || !strings.Contains(combined.Error(), "second") {
		t.Errorf("Combined message incomplete: %v", combined)
	}
}
