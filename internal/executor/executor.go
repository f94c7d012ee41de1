// Package executor validates a parsed statement against the catalog,
// type-checks literals against column types, dispatches to the per-table
// engine, and builds the JSON response envelope. Every failure is a
// value; nothing here panics the connection or the process.
package executor

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"xeondb/internal/catalog"
	"xeondb/internal/codec"
	"xeondb/internal/engine"
	"xeondb/internal/parser"
)

// Error kinds: the closed vocabulary of the wire "error" field.
const (
	ErrParse        = "parse_error"
	ErrUnauthorized = "unauthorized"
	ErrBadAuth      = "bad_auth"
	ErrForbidden    = "forbidden"
	ErrNotFound     = "not_found"
	ErrAlreadyExist = "already_exists"
	ErrSchema       = "schema_error"
	ErrInternal     = "internal_error"
)

// Response is one wire response object, encoded as a single JSON line by
// the server.
type Response map[string]any

func ok(extra map[string]any) Response {
	r := Response{"ok": true}
	for k, v := range extra {
		r[k] = v
	}
	return r
}

func fail(kind string) Response {
	return Response{"ok": false, "error": kind}
}

// Session is the per-connection mutable state: the current USE keyspace
// and, once authenticated, the principal. It is a small record owned by
// one connection, never stored in a process-wide map.
type Session struct {
	Keyspace      string
	Principal     *catalog.User
	Authenticated bool
}

// Executor binds a catalog to statement execution. authEnabled mirrors
// whether the server config carried an `auth:` block: when false the
// server runs open and every access check is skipped.
type Executor struct {
	cat         *catalog.Catalog
	authEnabled bool
	log         *zap.Logger
}

func New(cat *catalog.Catalog, authEnabled bool, log *zap.Logger) *Executor {
	return &Executor{cat: cat, authEnabled: authEnabled, log: log}
}

// Execute runs one parsed statement against sess and returns the
// response to write back. It never returns a Go error: every failure
// mode has a wire representation.
func (e *Executor) Execute(sess *Session, stmt *parser.Statement) Response {
	if e.authEnabled && !sess.Authenticated && stmt.Kind != parser.Auth {
		return fail(ErrUnauthorized)
	}

	switch stmt.Kind {
	case parser.Ping:
		return ok(Response{"result": "PONG"})
	case parser.Auth:
		return e.execAuth(sess, stmt)
	case parser.Use:
		return e.execUse(sess, stmt)
	case parser.ShowKeyspaces:
		return e.execShowKeyspaces(sess)
	case parser.ShowTables:
		return e.execShowTables(sess, stmt)
	case parser.DescribeTable:
		return e.execDescribeTable(sess, stmt)
	case parser.ShowCreateTable:
		return e.execShowCreateTable(sess, stmt)
	case parser.CreateKeyspace:
		return e.execCreateKeyspace(sess, stmt)
	case parser.DropKeyspace:
		return e.execDropKeyspace(sess, stmt)
	case parser.CreateTable:
		return e.execCreateTable(sess, stmt)
	case parser.DropTable:
		return e.execDropTable(sess, stmt)
	case parser.TruncateTable:
		return e.execTruncateTable(sess, stmt)
	case parser.Insert:
		return e.execInsert(sess, stmt)
	case parser.Select:
		return e.execSelect(sess, stmt)
	case parser.Update:
		return e.execUpdate(sess, stmt)
	case parser.Delete:
		return e.execDelete(sess, stmt)
	case parser.Flush:
		return e.execFlush(sess, stmt)
	default:
		return fail(ErrParse)
	}
}

func (e *Executor) execAuth(sess *Session, stmt *parser.Statement) Response {
	u, okAuth := e.cat.Authenticate(stmt.Username, stmt.Password)
	if !okAuth {
		return fail(ErrBadAuth)
	}
	sess.Principal = &u
	sess.Authenticated = true
	return ok(nil)
}

func (e *Executor) execUse(sess *Session, stmt *parser.Statement) Response {
	if !e.cat.KeyspaceExists(stmt.Keyspace) {
		return fail(ErrNotFound)
	}
	if e.authEnabled && !e.cat.CanAccessKeyspace(sess.Principal, stmt.Keyspace) {
		return fail(ErrForbidden)
	}
	sess.Keyspace = stmt.Keyspace
	return ok(nil)
}

func (e *Executor) execShowKeyspaces(sess *Session) Response {
	if e.authEnabled {
		return ok(Response{"keyspaces": e.cat.VisibleKeyspaces(sess.Principal)})
	}
	return ok(Response{"keyspaces": e.cat.ShowKeyspaces()})
}

func (e *Executor) execShowTables(sess *Session, stmt *parser.Statement) Response {
	ks := stmt.Keyspace
	if !e.cat.KeyspaceExists(ks) {
		return fail(ErrNotFound)
	}
	if e.authEnabled && !e.cat.CanAccessKeyspace(sess.Principal, ks) {
		return fail(ErrForbidden)
	}
	return ok(Response{"tables": e.cat.ShowTables(ks)})
}

// resolveTable maps a possibly-unqualified table reference onto a
// concrete (keyspace, table) pair using the session's current USE
// keyspace; it returns errKind="schema_error" when neither is present.
func (e *Executor) resolveTable(sess *Session, tn parser.TableName) (ks, table, errKind string) {
	ks = tn.Keyspace
	if ks == "" {
		ks = sess.Keyspace
	}
	if ks == "" {
		return "", "", ErrSchema
	}
	return ks, tn.Table, ""
}

// checkTableAccess resolves the table, verifies the keyspace exists and
// is accessible, and looks up its schema. Shared by every DML/DDL path
// that targets an existing table.
func (e *Executor) checkTableAccess(sess *Session, tn parser.TableName) (ks, table string, schema catalog.Schema, resp Response, failed bool) {
	ks, table, errKind := e.resolveTable(sess, tn)
	if errKind != "" {
		return "", "", catalog.Schema{}, fail(errKind), true
	}
	if !e.cat.KeyspaceExists(ks) {
		return "", "", catalog.Schema{}, fail(ErrNotFound), true
	}
	if e.authEnabled && !e.cat.CanAccessKeyspace(sess.Principal, ks) {
		return "", "", catalog.Schema{}, fail(ErrForbidden), true
	}
	sc, ok := e.schemaFor(ks, table)
	if !ok {
		return "", "", catalog.Schema{}, fail(ErrNotFound), true
	}
	return ks, table, sc, nil, false
}

func (e *Executor) schemaFor(ks, table string) (catalog.Schema, bool) {
	if ks == catalog.SystemKeyspace {
		return catalog.SystemSchema(table)
	}
	meta, ok := e.cat.TableMeta(ks, table)
	return meta.Schema, ok
}

func (e *Executor) engineFor(ks, table string) (*engine.Table, error) {
	if ks == catalog.SystemKeyspace {
		return e.cat.SystemEngine(table)
	}
	return e.cat.OpenEngine(ks, table)
}

func (e *Executor) execDescribeTable(sess *Session, stmt *parser.Statement) Response {
	ks, table, schema, resp, failed := e.checkTableAccess(sess, stmt.Table)
	if failed {
		return resp
	}
	cols := make([]Response, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		cols = append(cols, Response{"name": c.Name, "type": c.Type})
	}
	return ok(Response{"keyspace": ks, "table": table, "columns": cols, "primaryKey": schema.PKColumn})
}

func (e *Executor) execShowCreateTable(sess *Session, stmt *parser.Statement) Response {
	ks, table, schema, resp, failed := e.checkTableAccess(sess, stmt.Table)
	if failed {
		return resp
	}
	ddl := buildCreateTableDDL(ks, table, schema)
	return ok(Response{"create": ddl})
}

func buildCreateTableDDL(ks, table string, schema catalog.Schema) string {
	out := fmt.Sprintf("CREATE TABLE %s.%s (", ks, table)
	for i, c := range schema.Columns {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s %s", c.Name, c.Type)
	}
	out += fmt.Sprintf(", PRIMARY KEY (%s));", schema.PKColumn)
	return out
}

func (e *Executor) execCreateKeyspace(sess *Session, stmt *parser.Statement) Response {
	if e.authEnabled && (sess.Principal == nil || sess.Principal.Level != catalog.LevelAdmin) {
		return fail(ErrForbidden)
	}
	_, err := e.cat.CreateKeyspace(stmt.Keyspace, stmt.IfNotExists)
	if err != nil {
		return e.catalogErr(err)
	}
	return ok(nil)
}

func (e *Executor) execDropKeyspace(sess *Session, stmt *parser.Statement) Response {
	if e.authEnabled && (sess.Principal == nil || sess.Principal.Level != catalog.LevelAdmin) {
		return fail(ErrForbidden)
	}
	if err := e.cat.DropKeyspace(stmt.Keyspace, stmt.IfExists); err != nil {
		return e.catalogErr(err)
	}
	return ok(nil)
}

func (e *Executor) execCreateTable(sess *Session, stmt *parser.Statement) Response {
	ks, table, errKind := e.resolveTable(sess, stmt.Table)
	if errKind != "" {
		return fail(errKind)
	}
	if !e.cat.KeyspaceExists(ks) {
		return fail(ErrNotFound)
	}
	if e.authEnabled && !e.cat.CanAccessKeyspace(sess.Principal, ks) {
		return fail(ErrForbidden)
	}

	schema, errKind := buildSchema(stmt.Columns)
	if errKind != "" {
		return fail(errKind)
	}

	_, err := e.cat.CreateTable(ks, table, schema, stmt.IfNotExists)
	if err != nil {
		return e.catalogErr(err)
	}
	return ok(nil)
}

func buildSchema(cols []parser.ColumnDef) (catalog.Schema, string) {
	if len(cols) == 0 {
		return catalog.Schema{}, ErrSchema
	}
	pkColumn := ""
	defs := make([]catalog.ColumnDef, 0, len(cols))
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c.Name] {
			return catalog.Schema{}, ErrSchema
		}
		seen[c.Name] = true
		if _, ok := codec.ParseColumnType(c.Type); !ok {
			return catalog.Schema{}, ErrSchema
		}
		if c.PrimaryKey {
			if pkColumn != "" {
				return catalog.Schema{}, ErrSchema
			}
			pkColumn = c.Name
		}
		defs = append(defs, catalog.ColumnDef{Name: c.Name, Type: c.Type})
	}
	if pkColumn == "" {
		return catalog.Schema{}, ErrSchema
	}
	return catalog.Schema{Columns: defs, PKColumn: pkColumn}, ""
}

func (e *Executor) execDropTable(sess *Session, stmt *parser.Statement) Response {
	ks, table, errKind := e.resolveTable(sess, stmt.Table)
	if errKind != "" {
		return fail(errKind)
	}
	if !e.cat.KeyspaceExists(ks) {
		return fail(ErrNotFound)
	}
	if e.authEnabled && !e.cat.CanAccessKeyspace(sess.Principal, ks) {
		return fail(ErrForbidden)
	}
	if err := e.cat.DropTable(ks, table, stmt.IfExists); err != nil {
		return e.catalogErr(err)
	}
	return ok(nil)
}

func (e *Executor) execTruncateTable(sess *Session, stmt *parser.Statement) Response {
	_, _, _, resp, failed := e.checkTableAccess(sess, stmt.Table)
	if failed {
		return resp
	}
	ks, table, _ := e.resolveTable(sess, stmt.Table)
	eng, err := e.engineFor(ks, table)
	if err != nil {
		return e.internalErr(err)
	}
	if err := eng.Truncate(); err != nil {
		return e.internalErr(err)
	}
	return ok(nil)
}

func (e *Executor) execFlush(sess *Session, stmt *parser.Statement) Response {
	_, _, _, resp, failed := e.checkTableAccess(sess, stmt.Table)
	if failed {
		return resp
	}
	ks, table, _ := e.resolveTable(sess, stmt.Table)
	eng, err := e.engineFor(ks, table)
	if err != nil {
		return e.internalErr(err)
	}
	if err := eng.Flush(); err != nil {
		return e.internalErr(err)
	}
	return ok(nil)
}

func (e *Executor) execInsert(sess *Session, stmt *parser.Statement) Response {
	ks, table, schema, resp, failed := e.checkTableAccess(sess, stmt.Table)
	if failed {
		return resp
	}

	for _, row := range stmt.InsertRows {
		if len(row) != len(stmt.InsertColumns) {
			return fail(ErrSchema)
		}
		pk, cols, errKind := bindInsertRow(schema, stmt.InsertColumns, row)
		if errKind != "" {
			return fail(errKind)
		}
		if ks == catalog.SystemKeyspace {
			if err := e.cat.SystemInsert(table, pk, cols); err != nil {
				return e.internalErr(err)
			}
			continue
		}
		eng, err := e.engineFor(ks, table)
		if err != nil {
			return e.internalErr(err)
		}
		if err := eng.Put(pk, cols); err != nil {
			return e.internalErr(err)
		}
	}
	return ok(nil)
}

// bindInsertRow type-checks one VALUES tuple against schema and splits
// it into the primary key value plus the remaining columns. Columns the
// statement didn't mention come back as null.
func bindInsertRow(schema catalog.Schema, names []string, values []parser.Literal) (pk codec.Value, cols []codec.Column, errKind string) {
	given := make(map[string]codec.Value, len(names))
	for i, name := range names {
		tag, ok := schema.ColumnTag(name)
		if !ok {
			return codec.Value{}, nil, ErrSchema
		}
		v, err := bindLiteral(tag, values[i])
		if err != nil {
			return codec.Value{}, nil, ErrSchema
		}
		given[name] = v
	}

	pkVal, ok := given[schema.PKColumn]
	if !ok || pkVal.IsNull() {
		return codec.Value{}, nil, ErrSchema
	}

	cols = make([]codec.Column, 0, len(schema.Columns)-1)
	for _, c := range schema.Columns {
		if c.Name == schema.PKColumn {
			continue
		}
		if v, present := given[c.Name]; present {
			cols = append(cols, codec.Column{Name: c.Name, Val: v})
		} else {
			cols = append(cols, codec.Column{Name: c.Name, Val: codec.Null()})
		}
	}
	return pkVal, cols, ""
}

// bindLiteral resolves an unresolved parser literal against tag, the
// column's declared type: date/timestamp literals are quoted strings,
// distinguished from varchar only by the target column's type.
func bindLiteral(tag codec.Tag, lit parser.Literal) (codec.Value, error) {
	if lit.Kind == parser.LitNull {
		return codec.Null(), nil
	}
	switch tag {
	case codec.TagInt64:
		if lit.Kind == parser.LitInt {
			return codec.Int64(lit.Int), nil
		}
	case codec.TagVarchar:
		if lit.Kind == parser.LitString {
			return codec.Varchar(lit.Str), nil
		}
	case codec.TagBool:
		if lit.Kind == parser.LitBool {
			return codec.Bool(lit.Bool), nil
		}
	case codec.TagDate:
		if lit.Kind == parser.LitString {
			return codec.DateFromString(lit.Str)
		}
	case codec.TagTimestamp:
		if lit.Kind == parser.LitString {
			return codec.TimestampFromString(lit.Str)
		}
	case codec.TagBinary:
		if lit.Kind == parser.LitBinaryHex {
			b, err := decodeHex(lit.Str)
			if err != nil {
				return codec.Value{}, err
			}
			return codec.Binary(b), nil
		}
	}
	return codec.Value{}, fmt.Errorf("type mismatch: cannot bind literal to %s", tag)
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex literal")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, ok1 := hexVal(s[2*i])
		lo, ok2 := hexVal(s[2*i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("invalid hex digit")
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

func (e *Executor) execSelect(sess *Session, stmt *parser.Statement) Response {
	ks, table, schema, resp, failed := e.checkTableAccess(sess, stmt.Table)
	if failed {
		return resp
	}
	if !stmt.SelectStar {
		for _, name := range stmt.SelectColumns {
			if !schema.HasColumn(name) {
				return fail(ErrSchema)
			}
		}
	}

	eng, err := e.engineFor(ks, table)
	if err != nil {
		return e.internalErr(err)
	}

	if stmt.Where != nil {
		return e.execPointSelect(eng, schema, stmt)
	}
	return e.execScanSelect(eng, schema, stmt)
}

func (e *Executor) execPointSelect(eng *engine.Table, schema catalog.Schema, stmt *parser.Statement) Response {
	if stmt.Where.Column != schema.PKColumn {
		return fail(ErrSchema)
	}
	pkTag, _ := schema.ColumnTag(schema.PKColumn)
	pk, err := bindLiteral(pkTag, stmt.Where.Value)
	if err != nil {
		return fail(ErrSchema)
	}

	cols, found, err := eng.Get(pk)
	if err != nil {
		return e.internalErr(err)
	}
	if !found {
		return ok(Response{"found": false})
	}
	values := rowValues(schema, pk, cols)
	return ok(Response{"found": true, "row": projectRow(schema, values, stmt.SelectStar, stmt.SelectColumns)})
}

func (e *Executor) execScanSelect(eng *engine.Table, schema catalog.Schema, stmt *parser.Statement) Response {
	if stmt.HasLimit && stmt.Limit == 0 {
		return ok(Response{"rows": []Response{}})
	}

	order := engine.ScanAscending
	if stmt.HasOrderBy && stmt.OrderDesc {
		order = engine.ScanDescending
	}
	limit := -1
	if stmt.HasLimit {
		limit = stmt.Limit
	}

	rows, err := eng.Scan(order, limit)
	if err != nil {
		return e.internalErr(err)
	}

	out := make([]Response, 0, len(rows))
	for _, r := range rows {
		values := rowValues(schema, r.PK, r.Cols)
		out = append(out, projectRow(schema, values, stmt.SelectStar, stmt.SelectColumns))
	}
	return ok(Response{"rows": out})
}

// rowValues reassembles a full row (pk plus every schema column,
// defaulting missing ones to null) from the engine's split pk/cols
// representation.
func rowValues(schema catalog.Schema, pk codec.Value, cols []codec.Column) map[string]codec.Value {
	out := make(map[string]codec.Value, len(schema.Columns))
	for _, c := range schema.Columns {
		out[c.Name] = codec.Null()
	}
	out[schema.PKColumn] = pk
	for _, c := range cols {
		out[c.Name] = c.Val
	}
	return out
}

func projectRow(schema catalog.Schema, values map[string]codec.Value, star bool, selectCols []string) Response {
	out := Response{}
	if star {
		for _, c := range schema.Columns {
			out[c.Name] = codec.ToJSON(values[c.Name])
		}
		return out
	}
	for _, name := range selectCols {
		out[name] = codec.ToJSON(values[name])
	}
	return out
}

func (e *Executor) execUpdate(sess *Session, stmt *parser.Statement) Response {
	ks, table, schema, resp, failed := e.checkTableAccess(sess, stmt.Table)
	if failed {
		return resp
	}
	if stmt.Where.Column != schema.PKColumn {
		return fail(ErrSchema)
	}
	pkTag, _ := schema.ColumnTag(schema.PKColumn)
	pk, err := bindLiteral(pkTag, stmt.Where.Value)
	if err != nil {
		return fail(ErrSchema)
	}

	assigns := make(map[string]codec.Value, len(stmt.Assignments))
	for _, a := range stmt.Assignments {
		if a.Column == schema.PKColumn {
			return fail(ErrSchema)
		}
		tag, okCol := schema.ColumnTag(a.Column)
		if !okCol {
			return fail(ErrSchema)
		}
		v, err := bindLiteral(tag, a.Value)
		if err != nil {
			return fail(ErrSchema)
		}
		assigns[a.Column] = v
	}

	eng, err := e.engineFor(ks, table)
	if err != nil {
		return e.internalErr(err)
	}

	existing, found, err := eng.Get(pk)
	if err != nil {
		return e.internalErr(err)
	}

	merged := make(map[string]codec.Value, len(schema.Columns))
	for _, c := range schema.Columns {
		if c.Name == schema.PKColumn {
			continue
		}
		if found {
			merged[c.Name] = codec.Null()
		}
	}
	for _, c := range existing {
		merged[c.Name] = c.Val
	}
	for name, v := range assigns {
		merged[name] = v
	}

	cols := make([]codec.Column, 0, len(merged))
	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cols = append(cols, codec.Column{Name: name, Val: merged[name]})
	}

	if ks == catalog.SystemKeyspace {
		if err := e.cat.SystemInsert(table, pk, cols); err != nil {
			return e.internalErr(err)
		}
		return ok(nil)
	}
	if err := eng.Put(pk, cols); err != nil {
		return e.internalErr(err)
	}
	return ok(nil)
}

func (e *Executor) execDelete(sess *Session, stmt *parser.Statement) Response {
	ks, table, schema, resp, failed := e.checkTableAccess(sess, stmt.Table)
	if failed {
		return resp
	}
	if stmt.Where.Column != schema.PKColumn {
		return fail(ErrSchema)
	}
	pkTag, _ := schema.ColumnTag(schema.PKColumn)
	pk, err := bindLiteral(pkTag, stmt.Where.Value)
	if err != nil {
		return fail(ErrSchema)
	}
	if ks == catalog.SystemKeyspace {
		if err := e.cat.SystemDelete(table, pk); err != nil {
			return e.internalErr(err)
		}
		return ok(nil)
	}
	eng, err := e.engineFor(ks, table)
	if err != nil {
		return e.internalErr(err)
	}
	if err := eng.Delete(pk); err != nil {
		return e.internalErr(err)
	}
	return ok(nil)
}

func (e *Executor) catalogErr(err error) Response {
	switch {
	case err == catalog.ErrNotFound:
		return fail(ErrNotFound)
	case err == catalog.ErrAlreadyExists:
		return fail(ErrAlreadyExist)
	default:
		return e.internalErr(err)
	}
}

func (e *Executor) internalErr(err error) Response {
	if e.log != nil {
		e.log.Error("internal error executing statement", zap.Error(err))
	}
	return fail(ErrInternal)
}
