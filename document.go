package conduct

// Document is the structured key-value form exchanged between the
// engine and plugins: step parameters, step outputs, and the shared
// state accumulated by a workflow execution. It is JSON-serializable
// whenever its values are.
type Document map[string]any

// Merge returns a new Document containing the receiver's entries with
// other's entries shallow-merged on top (other wins on key collision).
// Both inputs are left untouched; either may be nil.
func (d Document) Merge(other Document) Document {
	merged := make(Document, len(d)+len(other))
	for k, v := range d {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// Clone returns a shallow copy of the document. Nil stays nil.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	cp := make(Document, len(d))
	for k, v := range d {
		cp[k] = v
	}
	return cp
}
