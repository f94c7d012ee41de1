package executor

import (
	"strings"
	"testing"

	"xeondb/internal/catalog"
	"xeondb/internal/config"
	"xeondb/internal/parser"
)

func testConfig(dir string, auth *config.Auth) *config.Config {
	return &config.Config{
		DataDir:            dir,
		Host:               "127.0.0.1",
		Port:               4488,
		MaxLineBytes:       1 << 20,
		MaxConnections:     128,
		WALFsync:           config.FsyncAlways,
		WALFsyncIntervalMs: 1000,
		WALFsyncBytes:      1 << 20,
		MemtableMaxBytes:   1 << 20,
		SSTableIndexStride: 4,
		Auth:               auth,
	}
}

func newExecutor(t *testing.T, auth *config.Auth) *Executor {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig(dir, auth)
	cat, err := catalog.Open(dir, cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	return New(cat, auth != nil, nil)
}

func run(t *testing.T, e *Executor, sess *Session, stmt string) Response {
	t.Helper()
	s, err := parser.Parse(stmt)
	if err != nil {
		t.Fatalf("parser.Parse(%q): %v", stmt, err)
	}
	return e.Execute(sess, s)
}

func wantOK(t *testing.T, resp Response) {
	t.Helper()
	if resp["ok"] != true {
		t.Fatalf("expected ok:true, got %+v", resp)
	}
}

func wantErr(t *testing.T, resp Response, kind string) {
	t.Helper()
	if resp["ok"] != false || resp["error"] != kind {
		t.Fatalf("expected error %q, got %+v", kind, resp)
	}
}

func TestPing(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	resp := run(t, e, sess, "PING;")
	wantOK(t, resp)
	if resp["result"] != "PONG" {
		t.Fatalf("result = %+v", resp)
	}
}

func TestCreateKeyspaceIdempotent(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE IF NOT EXISTS myapp;"))
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE IF NOT EXISTS myapp;"))
}

func TestCreateKeyspaceAlreadyExists(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE myapp;"))
	wantErr(t, run(t, e, sess, "CREATE KEYSPACE myapp;"), ErrAlreadyExist)
}

func setupUsersTable(t *testing.T, e *Executor, sess *Session) {
	t.Helper()
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE IF NOT EXISTS myapp;"))
	wantOK(t, run(t, e, sess, `CREATE TABLE IF NOT EXISTS myapp.users (id int64, name varchar, active boolean, born date, createdAt timestamp, avatar binary, PRIMARY KEY (id));`))
}

func TestInsertAndPointSelectRoundTrip(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	setupUsersTable(t, e, sess)

	wantOK(t, run(t, e, sess, `INSERT INTO myapp.users (id,name,active,born,createdAt,avatar) VALUES (1,"alice",true,"2026-02-18","2026-02-18T12:34:56.123Z",0x01020304);`))

	resp := run(t, e, sess, "SELECT * FROM myapp.users WHERE id=1;")
	wantOK(t, resp)
	if resp["found"] != true {
		t.Fatalf("found = %+v", resp["found"])
	}
	row, ok := resp["row"].(Response)
	if !ok {
		t.Fatalf("row has unexpected type: %T", resp["row"])
	}
	if row["name"] != "alice" || row["active"] != true || row["born"] != "2026-02-18" {
		t.Fatalf("row = %+v", row)
	}
	if row["createdAt"] != "2026-02-18T12:34:56.123Z" {
		t.Fatalf("createdAt = %+v", row["createdAt"])
	}
	if avatar, _ := row["avatar"].([]byte); string(avatar) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("avatar = %+v", row["avatar"])
	}
}

func TestScanOrderAndLimit(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE IF NOT EXISTS myapp;"))
	wantOK(t, run(t, e, sess, `CREATE TABLE myapp.users (id int64 PRIMARY KEY, name varchar);`))
	wantOK(t, run(t, e, sess, `INSERT INTO myapp.users (id,name) VALUES (2,"b"), (1,"a"), (3,"c");`))

	resp := run(t, e, sess, "SELECT * FROM myapp.users ORDER BY id DESC LIMIT 2;")
	wantOK(t, resp)
	rows, ok := resp["rows"].([]Response)
	if !ok || len(rows) != 2 {
		t.Fatalf("rows = %+v", resp["rows"])
	}
	if rows[0]["id"] != int64(3) || rows[1]["id"] != int64(2) {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestSelectLimitZeroYieldsEmpty(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE IF NOT EXISTS myapp;"))
	wantOK(t, run(t, e, sess, `CREATE TABLE myapp.users (id int64 PRIMARY KEY, name varchar);`))
	wantOK(t, run(t, e, sess, `INSERT INTO myapp.users (id,name) VALUES (1,"a");`))

	resp := run(t, e, sess, "SELECT * FROM myapp.users ORDER BY id ASC LIMIT 0;")
	wantOK(t, resp)
	rows, ok := resp["rows"].([]Response)
	if !ok || len(rows) != 0 {
		t.Fatalf("rows = %+v, want empty", resp["rows"])
	}
}

func TestSelectEmptyTable(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE IF NOT EXISTS myapp;"))
	wantOK(t, run(t, e, sess, `CREATE TABLE myapp.users (id int64 PRIMARY KEY, name varchar);`))

	resp := run(t, e, sess, "SELECT * FROM myapp.users ORDER BY id ASC;")
	wantOK(t, resp)
	rows, ok := resp["rows"].([]Response)
	if !ok || len(rows) != 0 {
		t.Fatalf("rows = %+v, want empty", resp["rows"])
	}
}

func TestSelectMissingRow(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	setupUsersTable(t, e, sess)

	resp := run(t, e, sess, "SELECT * FROM myapp.users WHERE id=99;")
	wantOK(t, resp)
	if resp["found"] != false {
		t.Fatalf("found = %+v, want false", resp["found"])
	}
	if _, has := resp["row"]; has {
		t.Fatalf("row should be absent when not found, got %+v", resp["row"])
	}
}

func TestUpdateSetNullDistinctFromAbsent(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE IF NOT EXISTS myapp;"))
	wantOK(t, run(t, e, sess, `CREATE TABLE myapp.users (id int64 PRIMARY KEY, name varchar, nickname varchar);`))

	// Upsert via UPDATE into an absent row: only SET columns present, others null.
	wantOK(t, run(t, e, sess, `UPDATE myapp.users SET name="alice" WHERE id=1;`))
	resp := run(t, e, sess, "SELECT * FROM myapp.users WHERE id=1;")
	row := resp["row"].(Response)
	if row["name"] != "alice" || row["nickname"] != nil {
		t.Fatalf("row after upsert = %+v", row)
	}

	// Now explicitly null a different column; name must be untouched.
	wantOK(t, run(t, e, sess, `UPDATE myapp.users SET nickname=null WHERE id=1;`))
	resp = run(t, e, sess, "SELECT * FROM myapp.users WHERE id=1;")
	row = resp["row"].(Response)
	if row["name"] != "alice" {
		t.Fatalf("name should be preserved across update, got %+v", row)
	}
	if row["nickname"] != nil {
		t.Fatalf("nickname should be null, got %+v", row["nickname"])
	}
}

func TestDeleteThenSelectNotFound(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE IF NOT EXISTS myapp;"))
	wantOK(t, run(t, e, sess, `CREATE TABLE myapp.users (id int64 PRIMARY KEY, name varchar);`))
	wantOK(t, run(t, e, sess, `INSERT INTO myapp.users (id,name) VALUES (1,"a");`))
	wantOK(t, run(t, e, sess, "DELETE FROM myapp.users WHERE id=1;"))

	resp := run(t, e, sess, "SELECT * FROM myapp.users WHERE id=1;")
	if resp["found"] != false {
		t.Fatalf("expected not found after delete, got %+v", resp)
	}
}

func TestShowKeyspacesWithoutAuthExcludesSystem(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}

	resp := run(t, e, sess, "SHOW KEYSPACES;")
	wantOK(t, resp)
	list, ok := resp["keyspaces"].([]string)
	if !ok || len(list) != 0 {
		t.Fatalf("keyspaces = %+v, want []", resp["keyspaces"])
	}

	wantOK(t, run(t, e, sess, "CREATE KEYSPACE ksA;"))
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE ksB;"))

	resp = run(t, e, sess, "SHOW KEYSPACES;")
	wantOK(t, resp)
	list, ok = resp["keyspaces"].([]string)
	if !ok || len(list) != 2 || list[0] != "ksA" || list[1] != "ksB" {
		t.Fatalf("keyspaces = %+v, want [ksA ksB]", resp["keyspaces"])
	}
}

func TestDropKeyspaceRemovesFromShowKeyspaces(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE IF NOT EXISTS myapp;"))
	wantOK(t, run(t, e, sess, "DROP KEYSPACE myapp;"))

	resp := run(t, e, sess, "SHOW KEYSPACES;")
	wantOK(t, resp)
	list, ok := resp["keyspaces"].([]string)
	if !ok {
		t.Fatalf("keyspaces has unexpected type: %T", resp["keyspaces"])
	}
	for _, ks := range list {
		if ks == "myapp" {
			t.Fatalf("dropped keyspace still present: %+v", list)
		}
	}
}

func TestUnauthorizedWithoutAuth(t *testing.T) {
	e := newExecutor(t, &config.Auth{Username: "admin", Password: "secret"})
	sess := &Session{}

	wantErr(t, run(t, e, sess, "PING;"), ErrUnauthorized)
	wantErr(t, run(t, e, sess, `AUTH "admin" "wrong";`), ErrBadAuth)
	wantOK(t, run(t, e, sess, `AUTH "admin" "secret";`))
	resp := run(t, e, sess, "PING;")
	wantOK(t, resp)
	if resp["result"] != "PONG" {
		t.Fatalf("result = %+v", resp)
	}
}

func TestAuthGrantScenario(t *testing.T) {
	e := newExecutor(t, &config.Auth{Username: "admin", Password: "secret"})
	admin := &Session{}
	wantOK(t, run(t, e, admin, `AUTH "admin" "secret";`))

	wantOK(t, run(t, e, admin, "CREATE KEYSPACE IF NOT EXISTS ksA;"))
	wantOK(t, run(t, e, admin, "CREATE KEYSPACE IF NOT EXISTS ksB;"))
	wantOK(t, run(t, e, admin, "CREATE KEYSPACE IF NOT EXISTS ksC;"))

	wantOK(t, run(t, e, admin, `INSERT INTO SYSTEM.USERS (username,password,level,enabled,created_at) VALUES ("alice","pw",1,true,0);`))
	wantOK(t, run(t, e, admin, `INSERT INTO SYSTEM.KEYSPACE_OWNERS (keyspace,owner_username,created_at) VALUES ("ksA","alice",0);`))
	wantOK(t, run(t, e, admin, `INSERT INTO SYSTEM.KEYSPACE_GRANTS (keyspace_username,created_at) VALUES ("ksB#alice",0);`))

	alice := &Session{}
	wantOK(t, run(t, e, alice, `AUTH "alice" "pw";`))

	resp := run(t, e, alice, "SHOW KEYSPACES;")
	wantOK(t, resp)
	list, ok := resp["keyspaces"].([]string)
	if !ok || len(list) != 2 {
		t.Fatalf("keyspaces = %+v", resp["keyspaces"])
	}
	seen := map[string]bool{list[0]: true}
	if len(list) > 1 {
		seen[list[1]] = true
	}
	if !seen["ksA"] || !seen["ksB"] {
		t.Fatalf("expected ksA and ksB visible to alice, got %+v", list)
	}

	wantErr(t, run(t, e, alice, "USE ksC;"), ErrForbidden)
	wantErr(t, run(t, e, alice, "SHOW TABLES IN SYSTEM;"), ErrForbidden)
	wantErr(t, run(t, e, alice, "CREATE KEYSPACE IF NOT EXISTS nope;"), ErrForbidden)
}

func TestDescribeAndShowCreateTable(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	setupUsersTable(t, e, sess)

	resp := run(t, e, sess, "DESCRIBE TABLE myapp.users;")
	wantOK(t, resp)
	if resp["keyspace"] != "myapp" || resp["table"] != "users" || resp["primaryKey"] != "id" {
		t.Fatalf("describe = %+v", resp)
	}
	cols, ok := resp["columns"].([]Response)
	if !ok || len(cols) != 6 {
		t.Fatalf("columns = %+v", resp["columns"])
	}
	if cols[0]["name"] != "id" || cols[0]["type"] != "int64" || cols[1]["name"] != "name" {
		t.Fatalf("columns = %+v", cols)
	}

	resp = run(t, e, sess, "SHOW CREATE TABLE myapp.users;")
	wantOK(t, resp)
	create, _ := resp["create"].(string)
	if !strings.Contains(create, "CREATE TABLE myapp.users") || !strings.Contains(create, "PRIMARY KEY (id)") {
		t.Fatalf("create = %q", create)
	}
}

func TestAdminShowKeyspacesIncludesSystemFirst(t *testing.T) {
	e := newExecutor(t, &config.Auth{Username: "admin", Password: "secret"})
	sess := &Session{}
	wantOK(t, run(t, e, sess, `AUTH "admin" "secret";`))

	resp := run(t, e, sess, "SHOW KEYSPACES;")
	wantOK(t, resp)
	list, ok := resp["keyspaces"].([]string)
	if !ok || len(list) != 1 || list[0] != "SYSTEM" {
		t.Fatalf("keyspaces = %+v, want [SYSTEM]", resp["keyspaces"])
	}
}

func TestDeleteSystemGrantRevokesAccess(t *testing.T) {
	e := newExecutor(t, &config.Auth{Username: "admin", Password: "secret"})
	admin := &Session{}
	wantOK(t, run(t, e, admin, `AUTH "admin" "secret";`))
	wantOK(t, run(t, e, admin, "CREATE KEYSPACE IF NOT EXISTS ksB;"))
	wantOK(t, run(t, e, admin, `INSERT INTO SYSTEM.USERS (username,password,level,enabled,created_at) VALUES ("alice","pw",1,true,0);`))
	wantOK(t, run(t, e, admin, `INSERT INTO SYSTEM.KEYSPACE_GRANTS (keyspace_username,created_at) VALUES ("ksB#alice",0);`))

	alice := &Session{}
	wantOK(t, run(t, e, alice, `AUTH "alice" "pw";`))
	wantOK(t, run(t, e, alice, "USE ksB;"))

	wantOK(t, run(t, e, admin, `DELETE FROM SYSTEM.KEYSPACE_GRANTS WHERE keyspace_username="ksB#alice";`))

	fresh := &Session{}
	wantOK(t, run(t, e, fresh, `AUTH "alice" "pw";`))
	wantErr(t, run(t, e, fresh, "USE ksB;"), ErrForbidden)
}

func TestSchemaErrorOnUnknownColumn(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE IF NOT EXISTS myapp;"))
	wantOK(t, run(t, e, sess, `CREATE TABLE myapp.users (id int64 PRIMARY KEY, name varchar);`))

	wantErr(t, run(t, e, sess, `INSERT INTO myapp.users (id,nope) VALUES (1,"x");`), ErrSchema)
}

func TestSchemaErrorOnWrongValueCount(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE IF NOT EXISTS myapp;"))
	wantOK(t, run(t, e, sess, `CREATE TABLE myapp.users (id int64 PRIMARY KEY, name varchar);`))

	wantErr(t, run(t, e, sess, `INSERT INTO myapp.users (id,name) VALUES (1);`), ErrSchema)
}

func TestNotFoundOnUnknownTable(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	wantOK(t, run(t, e, sess, "CREATE KEYSPACE IF NOT EXISTS myapp;"))
	wantErr(t, run(t, e, sess, "SELECT * FROM myapp.users WHERE id=1;"), ErrNotFound)
}

func TestFlushThenSelectStillVisible(t *testing.T) {
	e := newExecutor(t, nil)
	sess := &Session{}
	setupUsersTable(t, e, sess)
	wantOK(t, run(t, e, sess, `INSERT INTO myapp.users (id,name) VALUES (1,"alice");`))
	wantOK(t, run(t, e, sess, "FLUSH myapp.users;"))

	resp := run(t, e, sess, "SELECT * FROM myapp.users WHERE id=1;")
	wantOK(t, resp)
	if resp["found"] != true {
		t.Fatalf("expected row to survive flush, got %+v", resp)
	}
}
