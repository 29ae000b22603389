// Package target provides write access to the destination database: column
// catalog lookups, conflict-ignoring batch inserts and native COPY loads.
package target

// Column describes one destination table column.
type Column struct {
	Name     string
	DataType string // information_schema data_type, e.g. "bigint", "text"
}

// Names returns the column names in order.
func Names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
