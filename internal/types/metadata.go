package types

// Metadata represents a free-form set of key-value pairs attached to
// domain objects and audit entries.
type Metadata map[string]string

// Merge returns a new Metadata with the entries of other layered on top
// of m. Neither input is modified.
func (m Metadata) Merge(other Metadata) Metadata {
	result := make(Metadata, len(m)+len(other))
	for k, v := range m {
		result[k] = v
	}
	for k, v := range other {
		result[k] = v
	}
	return result
}
