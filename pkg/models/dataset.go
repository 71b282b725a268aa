package models

// Record is one row of a bizobj data set, keyed by column name.
type Record map[string]any

// DataSet is the ordered row set of a bizobj.
type DataSet []Record

// DataTypes maps column name to a normalized type name: int, float,
// decimal, string, bool, datetime or bytes.
type DataTypes map[string]string

// Row change operations in a DataDiff.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// RowChange is one client-side edit. PK identifies the row for update and
// delete; for insert it may be nil when the database assigns the key.
type RowChange struct {
	Op     string         `json:"op"`
	PK     any            `json:"pk,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// DataDiff is the client-computed set of edits submitted by save.
type DataDiff struct {
	Rows []RowChange `json:"rows"`
}
