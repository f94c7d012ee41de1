package parser

import "testing"

func mustParse(t *testing.T, line string) *Statement {
	t.Helper()
	stmt, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse(%q): %v", line, err)
	}
	return stmt
}

func TestParsePing(t *testing.T) {
	stmt := mustParse(t, "PING;")
	if stmt.Kind != Ping {
		t.Fatalf("kind = %v, want Ping", stmt.Kind)
	}
}

func TestParseAuth(t *testing.T) {
	stmt := mustParse(t, `AUTH "admin" "secret";`)
	if stmt.Kind != Auth || stmt.Username != "admin" || stmt.Password != "secret" {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseUse(t *testing.T) {
	stmt := mustParse(t, "USE myapp;")
	if stmt.Kind != Use || stmt.Keyspace != "myapp" {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseShowKeyspaces(t *testing.T) {
	stmt := mustParse(t, "SHOW KEYSPACES;")
	if stmt.Kind != ShowKeyspaces {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseShowTablesIn(t *testing.T) {
	stmt := mustParse(t, "SHOW TABLES IN myapp;")
	if stmt.Kind != ShowTables || stmt.Keyspace != "myapp" {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseCreateKeyspaceIfNotExists(t *testing.T) {
	stmt := mustParse(t, "CREATE KEYSPACE IF NOT EXISTS myapp;")
	if stmt.Kind != CreateKeyspace || stmt.Keyspace != "myapp" || !stmt.IfNotExists {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseDropKeyspaceIfExists(t *testing.T) {
	stmt := mustParse(t, "DROP KEYSPACE IF EXISTS myapp;")
	if stmt.Kind != DropKeyspace || stmt.Keyspace != "myapp" || !stmt.IfExists {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseCreateTable(t *testing.T) {
	stmt := mustParse(t, `CREATE TABLE myapp.users (id int64 PRIMARY KEY, name varchar, active boolean);`)
	if stmt.Kind != CreateTable {
		t.Fatalf("kind = %v", stmt.Kind)
	}
	if stmt.Table.Keyspace != "myapp" || stmt.Table.Table != "users" {
		t.Fatalf("table = %+v", stmt.Table)
	}
	if len(stmt.Columns) != 3 {
		t.Fatalf("columns = %+v", stmt.Columns)
	}
	if !stmt.Columns[0].PrimaryKey || stmt.Columns[0].Name != "id" || stmt.Columns[0].Type != "int64" {
		t.Fatalf("pk column = %+v", stmt.Columns[0])
	}
}

func TestParseCreateTableTrailingPrimaryKey(t *testing.T) {
	stmt := mustParse(t, `CREATE TABLE IF NOT EXISTS myapp.users (id int64, name varchar, PRIMARY KEY (id));`)
	if stmt.Kind != CreateTable || !stmt.IfNotExists {
		t.Fatalf("got %+v", stmt)
	}
	if len(stmt.Columns) != 2 {
		t.Fatalf("columns = %+v", stmt.Columns)
	}
	if !stmt.Columns[0].PrimaryKey || stmt.Columns[1].PrimaryKey {
		t.Fatalf("trailing PRIMARY KEY (id) not applied: %+v", stmt.Columns)
	}
}

func TestParseInsertMultiRow(t *testing.T) {
	stmt := mustParse(t, `INSERT INTO myapp.users (id,name) VALUES (2,"b"), (1,"a"), (3,"c");`)
	if stmt.Kind != Insert {
		t.Fatalf("kind = %v", stmt.Kind)
	}
	if len(stmt.InsertRows) != 3 {
		t.Fatalf("rows = %d, want 3", len(stmt.InsertRows))
	}
	if stmt.InsertRows[0][0].Kind != LitInt || stmt.InsertRows[0][0].Int != 2 {
		t.Fatalf("row0 col0 = %+v", stmt.InsertRows[0][0])
	}
	if stmt.InsertRows[1][1].Kind != LitString || stmt.InsertRows[1][1].Str != "a" {
		t.Fatalf("row1 col1 = %+v", stmt.InsertRows[1][1])
	}
}

func TestParseInsertTypedLiterals(t *testing.T) {
	stmt := mustParse(t, `INSERT INTO myapp.users (id,name,active,born,createdAt,avatar) VALUES (1,"alice",true,"2026-02-18","2026-02-18T12:34:56.123Z",0x01020304);`)
	row := stmt.InsertRows[0]
	if row[2].Kind != LitBool || !row[2].Bool {
		t.Fatalf("active = %+v", row[2])
	}
	if row[3].Kind != LitString || row[3].Str != "2026-02-18" {
		t.Fatalf("born = %+v", row[3])
	}
	if row[5].Kind != LitBinaryHex || row[5].Str != "01020304" {
		t.Fatalf("avatar = %+v", row[5])
	}
}

func TestParseInsertNullLiteral(t *testing.T) {
	stmt := mustParse(t, `INSERT INTO myapp.users (id,name) VALUES (1,null);`)
	if stmt.InsertRows[0][1].Kind != LitNull {
		t.Fatalf("expected null literal, got %+v", stmt.InsertRows[0][1])
	}
}

func TestParseSelectStarPointLookup(t *testing.T) {
	stmt := mustParse(t, "SELECT * FROM myapp.users WHERE id=1;")
	if stmt.Kind != Select || !stmt.SelectStar {
		t.Fatalf("got %+v", stmt)
	}
	if stmt.Where == nil || stmt.Where.Column != "id" || stmt.Where.Value.Int != 1 {
		t.Fatalf("where = %+v", stmt.Where)
	}
}

func TestParseSelectProjectionOrderLimit(t *testing.T) {
	stmt := mustParse(t, "SELECT id,name FROM myapp.users ORDER BY id DESC LIMIT 2;")
	if len(stmt.SelectColumns) != 2 || stmt.SelectColumns[0] != "id" || stmt.SelectColumns[1] != "name" {
		t.Fatalf("columns = %+v", stmt.SelectColumns)
	}
	if !stmt.HasOrderBy || !stmt.OrderDesc {
		t.Fatalf("order = %+v", stmt)
	}
	if !stmt.HasLimit || stmt.Limit != 2 {
		t.Fatalf("limit = %+v", stmt)
	}
}

func TestParseSelectLimitZero(t *testing.T) {
	stmt := mustParse(t, "SELECT * FROM myapp.users ORDER BY id ASC LIMIT 0;")
	if !stmt.HasLimit || stmt.Limit != 0 {
		t.Fatalf("limit = %+v", stmt)
	}
}

func TestParseUpdate(t *testing.T) {
	stmt := mustParse(t, `UPDATE myapp.users SET name="bob", active=null WHERE id=1;`)
	if stmt.Kind != Update {
		t.Fatalf("kind = %v", stmt.Kind)
	}
	if len(stmt.Assignments) != 2 {
		t.Fatalf("assignments = %+v", stmt.Assignments)
	}
	if stmt.Assignments[1].Column != "active" || stmt.Assignments[1].Value.Kind != LitNull {
		t.Fatalf("assignment[1] = %+v", stmt.Assignments[1])
	}
	if stmt.Where.Column != "id" {
		t.Fatalf("where = %+v", stmt.Where)
	}
}

func TestParseDelete(t *testing.T) {
	stmt := mustParse(t, "DELETE FROM myapp.users WHERE id=1;")
	if stmt.Kind != Delete || stmt.Where.Column != "id" {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseFlush(t *testing.T) {
	stmt := mustParse(t, "FLUSH myapp.users;")
	if stmt.Kind != Flush || stmt.Table.Keyspace != "myapp" || stmt.Table.Table != "users" {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseUnqualifiedTableName(t *testing.T) {
	stmt := mustParse(t, "SELECT * FROM users;")
	if stmt.Table.Keyspace != "" || stmt.Table.Table != "users" {
		t.Fatalf("table = %+v", stmt.Table)
	}
}

func TestParseShowCreateTable(t *testing.T) {
	stmt := mustParse(t, "SHOW CREATE TABLE myapp.users;")
	if stmt.Kind != ShowCreateTable || stmt.Table.Table != "users" {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseDescribeTable(t *testing.T) {
	stmt := mustParse(t, "DESCRIBE TABLE myapp.users;")
	if stmt.Kind != DescribeTable || stmt.Table.Table != "users" {
		t.Fatalf("got %+v", stmt)
	}
}

func TestParseUnrecognizedYieldsError(t *testing.T) {
	if _, err := Parse("FROBNICATE everything;"); err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestParseUnterminatedStringYieldsError(t *testing.T) {
	if _, err := Parse(`AUTH "admin" "secret;`); err == nil {
		t.Fatalf("expected a parse error for unterminated string")
	}
}

func TestParseEmptyStatementYieldsError(t *testing.T) {
	if _, err := Parse("   "); err == nil {
		t.Fatalf("expected a parse error for an empty statement")
	}
}

func TestParseTrailingGarbageYieldsError(t *testing.T) {
	if _, err := Parse("PING PONG;"); err == nil {
		t.Fatalf("expected a parse error for trailing input")
	}
}
