package models

// ColumnType is the inferred logical type of a dataset column.
type ColumnType string

const (
	TypeInteger  ColumnType = "integer"
	TypeFloating ColumnType = "floating"
	TypeBoolean  ColumnType = "boolean"
	TypeTemporal ColumnType = "temporal"
	TypeTextual  ColumnType = "textual"
)

// ColumnProfile describes one column of the uploaded dataset.
type ColumnProfile struct {
	Name        string     `json:"name"`
	Type        ColumnType `json:"type"`
	NullCount   int64      `json:"null_count"`
	UniqueCount int64      `json:"unique_count"`
	Min         *float64   `json:"min,omitempty"`
	Max         *float64   `json:"max,omitempty"`
	Mean        *float64   `json:"mean,omitempty"`
	Samples     []string   `json:"sample_values"`
}

// Profile is the derived, cached description of a dataset. It is computed
// once at upload and reused for every turn; no file I/O happens at turn time.
type Profile struct {
	Filename    string           `json:"filename"`
	RowCount    int64            `json:"row_count"`
	ColumnCount int              `json:"column_count"`
	Columns     []ColumnProfile  `json:"columns"`
	Preview     []map[string]any `json:"preview"`
}

// ColumnNames returns the ordered column names.
func (p *Profile) ColumnNames() []string {
	names := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		names[i] = c.Name
	}
	return names
}
