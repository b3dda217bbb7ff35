// Package id defines the identifier types for conduct entities.
//
// All identifiers are TypeIDs: a type prefix joined to a K-sortable
// UUIDv7 suffix, rendered as "prefix_suffix". The prefix makes an id
// self-describing in logs and event payloads; the UUIDv7 suffix makes
// ids sort by creation time.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the entity-type marker encoded into an id.
type Prefix string

const (
	PrefixWorkflow    Prefix = "wf"
	PrefixExecution   Prefix = "exec"
	PrefixTransaction Prefix = "txn"
	PrefixOperation   Prefix = "op"
	PrefixEvent       Prefix = "evt"
)

// ID wraps a TypeID together with a validity flag so the zero value is
// usable as "no id" without a pointer.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// Aliases give call sites a self-documenting name for the id they
// carry. They are aliases, not distinct types: an ExecutionID can be
// logged, stored, and compared like any other ID.
type (
	WorkflowID    = ID
	ExecutionID   = ID
	TransactionID = ID
	OperationID   = ID
	EventID       = ID
)

// New generates a fresh id with the given prefix. Panics on an invalid
// prefix, which is a programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

func NewWorkflowID() ID    { return New(PrefixWorkflow) }
func NewExecutionID() ID   { return New(PrefixExecution) }
func NewTransactionID() ID { return New(PrefixTransaction) }
func NewOperationID() ID   { return New(PrefixOperation) }
func NewEventID() ID       { return New(PrefixEvent) }

// Parse converts a "prefix_suffix" string into an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and rejects it when the prefix differs from
// expected. Use this at trust boundaries where the entity type is known.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse panics when s does not parse. For hardcoded ids in tests.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

func ParseWorkflowID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixWorkflow) }
func ParseExecutionID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixExecution) }
func ParseTransactionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixTransaction) }
func ParseOperationID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixOperation) }
func ParseEventID(s string) (ID, error)       { return ParseWithPrefix(s, PrefixEvent) }

// String renders the id as "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the id's entity-type prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether the id is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler. Nil marshals to the
// empty string.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// restores Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil maps to SQL NULL so optional
// reference columns stay nullable.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner for string and []byte sources.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		if v == "" {
			*i = Nil
			return nil
		}
		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil
			return nil
		}
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
