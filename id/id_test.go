package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/conducthq/conduct/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"WorkflowID", id.NewWorkflowID, "wf_"},
		{"ExecutionID", id.NewExecutionID, "exec_"},
		{"TransactionID", id.NewTransactionID, "txn_"},
		{"OperationID", id.NewOperationID, "op_"},
		{"EventID", id.NewEventID, "evt_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn()
			if got.IsNil() {
				t.Fatal("constructor returned nil ID")
			}
			if !strings.HasPrefix(got.String(), tt.prefix) {
				t.Errorf("got %q, want prefix %q", got.String(), tt.prefix)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := id.NewExecutionID()

	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse(%q): %v", orig.String(), err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip mismatch: got %q, want %q", parsed.String(), orig.String())
	}
	if parsed.Prefix() != id.PrefixExecution {
		t.Errorf("prefix = %q, want %q", parsed.Prefix(), id.PrefixExecution)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"garbage", "not a typeid!!"},
		{"bad suffix", "wf_zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := id.Parse(tt.in); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.in)
			}
		})
	}
}

func TestParseWithPrefix(t *testing.T) {
	txID := id.NewTransactionID()

	if _, err := id.ParseTransactionID(txID.String()); err != nil {
		t.Errorf("ParseTransactionID(%q): %v", txID.String(), err)
	}

	// Wrong prefix must be rejected.
	if _, err := id.ParseWorkflowID(txID.String()); err == nil {
		t.Error("ParseWorkflowID accepted a txn-prefixed ID")
	}
}

func TestNil(t *testing.T) {
	var zero id.ID
	if !zero.IsNil() {
		t.Error("zero value is not nil")
	}
	if zero.String() != "" {
		t.Errorf("nil String() = %q, want empty", zero.String())
	}
	if zero.Prefix() != "" {
		t.Errorf("nil Prefix() = %q, want empty", zero.Prefix())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type record struct {
		ID id.ExecutionID `json:"id"`
	}

	orig := record{ID: id.NewExecutionID()}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got record
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID.String() != orig.ID.String() {
		t.Errorf("JSON round trip mismatch: got %q, want %q", got.ID.String(), orig.ID.String())
	}
}

func TestSQLValueScan(t *testing.T) {
	orig := id.NewWorkflowID()

	v, err := orig.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if scanned.String() != orig.String() {
		t.Errorf("SQL round trip mismatch: got %q, want %q", scanned.String(), orig.String())
	}

	// Nil ID stores NULL.
	var zero id.ID
	v, err = zero.Value()
	if err != nil {
		t.Fatalf("nil Value: %v", err)
	}
	if v != nil {
		t.Errorf("nil Value() = %v, want nil", v)
	}

	var fromNull id.ID
	if err := fromNull.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if !fromNull.IsNil() {
		t.Error("Scan(nil) produced a non-nil ID")
	}
}
