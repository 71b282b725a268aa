package bizobj

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xfxf/dabo/internal/apperr"
	"github.com/xfxf/dabo/internal/database"
	"github.com/xfxf/dabo/internal/logging"
	"github.com/xfxf/dabo/pkg/models"
)

// TableDef binds a SQL bizobj to a table and its business rules.
type TableDef struct {
	Table       string `yaml:"table"`
	KeyField    string `yaml:"key_field"`
	DefaultSQL  string `yaml:"default_sql"`
	AllowDelete bool   `yaml:"allow_delete"`
	Rules       Rules  `yaml:"rules"`
}

// Rules are the field checks applied on save.
type Rules struct {
	Required  []string       `yaml:"required"`
	ReadOnly  []string       `yaml:"readonly"`
	MaxLength map[string]int `yaml:"max_length"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(name string) bool {
	return identRe.MatchString(name)
}

func badRequest(format string, args ...any) error {
	return &apperr.BusinessRuleError{Code: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NewSQLFactory returns a factory of SQL bizobjs over db.
func NewSQLFactory(db *database.DB, def TableDef) (Factory, error) {
	if !validIdent(def.Table) {
		return nil, fmt.Errorf("invalid table name %q", def.Table)
	}
	if def.KeyField == "" {
		def.KeyField = "id"
	}
	if !validIdent(def.KeyField) {
		return nil, fmt.Errorf("invalid key field %q", def.KeyField)
	}
	if def.DefaultSQL == "" {
		def.DefaultSQL = "SELECT * FROM " + db.Dialect.QuoteIdent(def.Table)
	}
	if _, err := checkSelect(def.DefaultSQL); err != nil {
		return nil, fmt.Errorf("default sql: %w", err)
	}
	return func(_ context.Context, _ string) (Bizobj, error) {
		return NewSQLBizobj(db, def), nil
	}, nil
}

// SQLBizobj is a bizobj over one database table.
type SQLBizobj struct {
	db       *database.DB
	def      TableDef
	keyField string
	query    string
	// key field and query of the last successful requery
	lastKey   string
	lastQuery string

	columns []string
	known   map[string]bool
	types   models.DataTypes
	data    models.DataSet
	row     int
}

// NewSQLBizobj creates a bizobj for def. No query runs until Requery.
func NewSQLBizobj(db *database.DB, def TableDef) *SQLBizobj {
	return &SQLBizobj{
		db:        db,
		def:       def,
		keyField:  def.KeyField,
		query:     def.DefaultSQL,
		lastKey:   def.KeyField,
		lastQuery: def.DefaultSQL,
		types:     models.DataTypes{},
		data:      models.DataSet{},
		row:       -1,
	}
}

func (b *SQLBizobj) SetKeyField(name string) error {
	if name == "" {
		b.keyField = b.def.KeyField
		return nil
	}
	if !validIdent(name) {
		return badRequest("invalid key field %q", name)
	}
	b.keyField = name
	return nil
}

func (b *SQLBizobj) SetSQL(query string) error {
	if strings.TrimSpace(query) == "" {
		b.query = b.def.DefaultSQL
		return nil
	}
	q, err := checkSelect(query)
	if err != nil {
		b.keyField = b.lastKey
		return err
	}
	b.query = q
	return nil
}

// checkSelect accepts a single SELECT statement.
func checkSelect(query string) (string, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if strings.Contains(q, ";") {
		return "", badRequest("only a single statement is allowed")
	}
	fields := strings.Fields(q)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "select") {
		return "", badRequest("only SELECT statements may be requeried")
	}
	return q, nil
}

// Requery runs the current query. On failure the key field and query revert
// to those of the last successful requery and the data set is unchanged.
func (b *SQLBizobj) Requery(ctx context.Context) error {
	if err := b.load(ctx); err != nil {
		b.keyField, b.query = b.lastKey, b.lastQuery
		return err
	}
	b.lastKey, b.lastQuery = b.keyField, b.query
	return nil
}

func (b *SQLBizobj) load(ctx context.Context) error {
	rows, err := b.db.QueryContext(ctx, b.query)
	if err != nil {
		return badRequest("requery failed: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("read columns: %w", err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("read column types: %w", err)
	}

	data := models.DataSet{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		rec := make(models.Record, len(cols))
		for i, c := range cols {
			rec[c] = normalizeValue(vals[i], colTypes[i].DatabaseTypeName())
		}
		data = append(data, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}

	types := make(models.DataTypes, len(cols))
	known := make(map[string]bool, len(cols))
	for i, c := range cols {
		types[c] = columnType(colTypes[i].DatabaseTypeName(), data, c)
		known[c] = true
	}

	b.columns, b.known, b.types, b.data = cols, known, types, data
	b.row = -1
	if len(data) > 0 {
		b.row = 0
	}
	return nil
}

func normalizeValue(v any, dbType string) any {
	if raw, ok := v.([]byte); ok {
		if typeName(dbType) == "bytes" {
			return append([]byte(nil), raw...)
		}
		return string(raw)
	}
	return v
}

func typeName(dbType string) string {
	t := strings.ToUpper(dbType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "INT2", "INT4", "INT8", "SERIAL", "BIGSERIAL":
		return "int"
	case "REAL", "FLOAT", "DOUBLE", "FLOAT4", "FLOAT8", "DOUBLE PRECISION":
		return "float"
	case "NUMERIC", "DECIMAL", "MONEY":
		return "decimal"
	case "BOOL", "BOOLEAN":
		return "bool"
	case "DATE", "DATETIME", "TIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMETZ":
		return "datetime"
	case "BLOB", "BYTEA":
		return "bytes"
	case "":
		return ""
	}
	return "string"
}

// columnType names a column's type, falling back to the Go type of its
// first non-null value for untyped expressions.
func columnType(dbType string, data models.DataSet, col string) string {
	if t := typeName(dbType); t != "" {
		return t
	}
	for _, rec := range data {
		switch rec[col].(type) {
		case nil:
			continue
		case int64, int32, int:
			return "int"
		case float64, float32:
			return "float"
		case bool:
			return "bool"
		case time.Time:
			return "datetime"
		case []byte:
			return "bytes"
		default:
			return "string"
		}
	}
	return "string"
}

func (b *SQLBizobj) DataSet() models.DataSet     { return b.data }
func (b *SQLBizobj) DataTypes() models.DataTypes { return b.types }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func empty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// validate checks one row change against the column set and rules.
func (b *SQLBizobj) validate(rc models.RowChange) error {
	switch rc.Op {
	case models.OpInsert, models.OpUpdate, models.OpDelete:
	default:
		return badRequest("unknown row operation %q", rc.Op)
	}
	if rc.Op != models.OpInsert && rc.PK == nil {
		return badRequest("%s requires a primary key", rc.Op)
	}
	if rc.Op == models.OpDelete {
		if !b.def.AllowDelete {
			return apperr.BusinessRule("deleting from %s is not allowed", b.def.Table)
		}
		return nil
	}
	if len(rc.Fields) == 0 {
		return badRequest("%s without fields", rc.Op)
	}

	for name, v := range rc.Fields {
		if !validIdent(name) || !b.known[name] {
			return badRequest("unknown column %q", name)
		}
		if contains(b.def.Rules.ReadOnly, name) {
			return apperr.BusinessRule("field %s is read-only", name)
		}
		if rc.Op == models.OpUpdate && name == b.keyField {
			return apperr.BusinessRule("the key field %s cannot be changed", name)
		}
		if limit, ok := b.def.Rules.MaxLength[name]; ok {
			if s, isStr := v.(string); isStr && utf8.RuneCountInString(s) > limit {
				return apperr.BusinessRule("field %s exceeds %d characters", name, limit)
			}
		}
	}
	for _, name := range b.def.Rules.Required {
		v, present := rc.Fields[name]
		if (rc.Op == models.OpInsert && empty(v)) || (present && empty(v)) {
			return apperr.BusinessRule("field %s is required", name)
		}
	}
	return nil
}

func sortedFields(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (b *SQLBizobj) ApplyDiffAndSave(ctx context.Context, diff models.DataDiff) error {
	if b.known == nil {
		if err := b.Requery(ctx); err != nil {
			return err
		}
	}
	if err := b.checkWriteKey(); err != nil {
		return err
	}
	for _, rc := range diff.Rows {
		if err := b.validate(rc); err != nil {
			return err
		}
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rc := range diff.Rows {
		if err := b.applyRow(ctx, tx, rc); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	b.refresh(ctx)
	return nil
}

// refresh re-runs the query after a commit. On failure the previous data set
// stays and the error is only logged.
func (b *SQLBizobj) refresh(ctx context.Context) {
	if err := b.Requery(ctx); err != nil {
		logging.WithContext(ctx).Warn("refresh after write failed",
			zap.String("table", b.def.Table),
			zap.Error(err))
	}
}

// checkWriteKey allows writes only through the table's configured key.
func (b *SQLBizobj) checkWriteKey() error {
	if b.keyField != b.def.KeyField {
		return badRequest("writes must use key field %s, not %s", b.def.KeyField, b.keyField)
	}
	if !b.known[b.keyField] {
		return badRequest("key field %s is not a column of the current query", b.keyField)
	}
	return nil
}

func (b *SQLBizobj) applyRow(ctx context.Context, tx *sql.Tx, rc models.RowChange) error {
	d := b.db.Dialect
	table := d.QuoteIdent(b.def.Table)
	key := d.QuoteIdent(b.keyField)

	var (
		query string
		args  []any
	)
	switch rc.Op {
	case models.OpInsert:
		names := sortedFields(rc.Fields)
		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = d.QuoteIdent(n)
			args = append(args, rc.Fields[n])
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(quoted, ", "), d.Placeholders(1, len(names)))
	case models.OpUpdate:
		names := sortedFields(rc.Fields)
		sets := make([]string, len(names))
		for i, n := range names {
			sets[i] = d.QuoteIdent(n) + " = " + d.Placeholder(i+1)
			args = append(args, rc.Fields[n])
		}
		args = append(args, rc.PK)
		query = fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
			table, strings.Join(sets, ", "), key, d.Placeholder(len(names)+1))
	case models.OpDelete:
		args = []any{rc.PK}
		query = fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, key, d.Placeholder(1))
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.BusinessRule("%s failed: %v", rc.Op, err)
	}
	if rc.Op != models.OpInsert {
		n, err := res.RowsAffected()
		switch {
		case err != nil:
			return fmt.Errorf("%s rows affected: %w", rc.Op, err)
		case n == 0:
			return apperr.NotFound("row", fmt.Sprint(rc.PK))
		case n > 1:
			return apperr.BusinessRule("%s of %v matched %d rows", rc.Op, rc.PK, n)
		}
	}
	return nil
}

func (b *SQLBizobj) MoveToPK(pk string) error {
	for i, rec := range b.data {
		if v, ok := rec[b.keyField]; ok && v != nil && fmt.Sprint(v) == pk {
			b.row = i
			return nil
		}
	}
	return apperr.NotFound("row", pk)
}

func (b *SQLBizobj) Delete(ctx context.Context) error {
	if b.row < 0 || b.row >= len(b.data) {
		return apperr.BusinessRule("no current row to delete")
	}
	if err := b.checkWriteKey(); err != nil {
		return err
	}
	rc := models.RowChange{Op: models.OpDelete, PK: b.data[b.row][b.keyField]}
	if err := b.validate(rc); err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := b.applyRow(ctx, tx, rc); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	b.refresh(ctx)
	return nil
}
