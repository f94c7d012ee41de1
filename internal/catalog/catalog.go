// Package catalog implements the keyspace/table metadata store: a
// process-wide index of keyspaces and tables, persisted inside the
// built-in SYSTEM keyspace as ordinary tables, plus the lazy registry of
// opened per-table storage engines.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/puzpuzpuz/xsync/v3"

	"xeondb/internal/codec"
	"xeondb/internal/config"
	"xeondb/internal/engine"
)

func currentUnixMillis() int64 { return time.Now().UnixMilli() }

// AuthLevel distinguishes the two principal levels: admin and user.
type AuthLevel int64

const (
	LevelAdmin AuthLevel = 0
	LevelUser  AuthLevel = 1
)

// SystemKeyspace is the reserved name holding catalog/auth metadata.
const SystemKeyspace = "SYSTEM"

const (
	tableKeyspaces = "KEYSPACES"
	tableTables    = "TABLES"
	tableUsers     = "USERS"
	tableOwners    = "KEYSPACE_OWNERS"
	tableGrants    = "KEYSPACE_GRANTS"
)

// KeyspaceMeta is one row of SYSTEM.KEYSPACES.
type KeyspaceMeta struct {
	Name      string
	CreatedAt int64
}

// TableMeta is one row of SYSTEM.TABLES, with its schema_json decoded.
type TableMeta struct {
	Keyspace  string
	Table     string
	Schema    Schema
	CreatedAt int64
}

// User is one row of SYSTEM.USERS.
type User struct {
	Username  string
	Password  string
	Level     AuthLevel
	Enabled   bool
	CreatedAt int64
}

// Qualify joins a keyspace and table name into the dotted form used in
// statements and in SYSTEM.TABLES' primary key.
func Qualify(keyspace, table string) string { return keyspace + "." + table }

// Catalog is the process-wide keyspace/table index plus lazy engine
// registry. It is initialized during startup recovery and closed at
// clean shutdown.
type Catalog struct {
	dataDir string
	cfg     *config.Config

	sysKeyspaces *engine.Table
	sysTables    *engine.Table
	sysUsers     *engine.Table
	sysOwners    *engine.Table
	sysGrants    *engine.Table

	mu            sync.RWMutex // guards everything below; DDL takes it exclusively, reads take it shared
	keyspaces     map[string]KeyspaceMeta
	keyspaceOrder []string
	tableMetas    map[string]TableMeta
	tableOrder    map[string][]string // keyspace -> table names, creation order
	users         map[string]User
	owners        map[string]string          // keyspace -> owner username
	grants        map[string]map[string]bool // username -> set of granted keyspaces

	engines *xsync.MapOf[string, *engine.Table] // qualified name -> opened table engine
}

func keyspacesSchema() Schema {
	return Schema{
		Columns:  []ColumnDef{{"name", "varchar"}, {"created_at", "int64"}},
		PKColumn: "name",
	}
}

func tablesSchema() Schema {
	return Schema{
		Columns: []ColumnDef{
			{"qualified", "varchar"}, {"keyspace", "varchar"}, {"table", "varchar"},
			{"schema_json", "varchar"}, {"pk_column", "varchar"}, {"created_at", "int64"},
		},
		PKColumn: "qualified",
	}
}

func usersSchema() Schema {
	return Schema{
		Columns: []ColumnDef{
			{"username", "varchar"}, {"password", "varchar"}, {"level", "int64"},
			{"enabled", "boolean"}, {"created_at", "int64"},
		},
		PKColumn: "username",
	}
}

func ownersSchema() Schema {
	return Schema{
		Columns:  []ColumnDef{{"keyspace", "varchar"}, {"owner_username", "varchar"}, {"created_at", "int64"}},
		PKColumn: "keyspace",
	}
}

func grantsSchema() Schema {
	return Schema{
		Columns:  []ColumnDef{{"keyspace_username", "varchar"}, {"created_at", "int64"}},
		PKColumn: "keyspace_username",
	}
}

// SystemSchema returns the hard-coded schema for one of the five
// built-in SYSTEM tables, or ok=false if name isn't one of them.
func SystemSchema(name string) (Schema, bool) {
	switch name {
	case tableKeyspaces:
		return keyspacesSchema(), true
	case tableTables:
		return tablesSchema(), true
	case tableUsers:
		return usersSchema(), true
	case tableOwners:
		return ownersSchema(), true
	case tableGrants:
		return grantsSchema(), true
	default:
		return Schema{}, false
	}
}

// Open bootstraps the catalog: SYSTEM's own engines are created first
// (breaking the catalog-in-SYSTEM-in-catalog cycle), then their rows are
// scanned to rebuild the in-memory keyspace/table/auth indices, and
// finally a configured admin credential is installed ("config wins").
func Open(dataDir string, cfg *config.Config) (*Catalog, error) {
	sysDir := filepath.Join(dataDir, SystemKeyspace)

	open := func(name string, sc Schema) (*engine.Table, error) {
		t, err := engine.OpenTable(filepath.Join(sysDir, name), sc.PKTag(), cfg)
		if err != nil {
			return nil, fmt.Errorf("catalog: open SYSTEM.%s: %w", name, err)
		}
		return t, nil
	}

	sysKeyspaces, err := open(tableKeyspaces, keyspacesSchema())
	if err != nil {
		return nil, err
	}
	sysTables, err := open(tableTables, tablesSchema())
	if err != nil {
		return nil, err
	}
	sysUsers, err := open(tableUsers, usersSchema())
	if err != nil {
		return nil, err
	}
	sysOwners, err := open(tableOwners, ownersSchema())
	if err != nil {
		return nil, err
	}
	sysGrants, err := open(tableGrants, grantsSchema())
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		dataDir:      dataDir,
		cfg:          cfg,
		sysKeyspaces: sysKeyspaces,
		sysTables:    sysTables,
		sysUsers:     sysUsers,
		sysOwners:    sysOwners,
		sysGrants:    sysGrants,
		keyspaces:    make(map[string]KeyspaceMeta),
		tableMetas:   make(map[string]TableMeta),
		tableOrder:   make(map[string][]string),
		users:        make(map[string]User),
		owners:       make(map[string]string),
		grants:       make(map[string]map[string]bool),
		engines:      xsync.NewMapOf[string, *engine.Table](),
	}

	if err := c.rebuildIndices(); err != nil {
		return nil, err
	}

	if cfg.Auth != nil {
		if err := c.installConfiguredAdmin(cfg.Auth.Username, cfg.Auth.Password); err != nil {
			return nil, fmt.Errorf("catalog: install configured admin: %w", err)
		}
	}

	return c, nil
}

func (c *Catalog) rebuildIndices() error {
	ksRows, err := c.sysKeyspaces.Scan(engine.ScanAscending, -1)
	if err != nil {
		return fmt.Errorf("catalog: scan SYSTEM.KEYSPACES: %w", err)
	}
	// Scans return primary-key order; restore creation order from created_at.
	sort.SliceStable(ksRows, func(i, j int) bool {
		a, _ := findCol(ksRows[i].Cols, "created_at")
		b, _ := findCol(ksRows[j].Cols, "created_at")
		return a.I64 < b.I64
	})
	for _, r := range ksRows {
		c.applyKeyspaceRowLocked(r.PK, r.Cols)
	}

	tblRows, err := c.sysTables.Scan(engine.ScanAscending, -1)
	if err != nil {
		return fmt.Errorf("catalog: scan SYSTEM.TABLES: %w", err)
	}
	sort.SliceStable(tblRows, func(i, j int) bool {
		a, _ := findCol(tblRows[i].Cols, "created_at")
		b, _ := findCol(tblRows[j].Cols, "created_at")
		return a.I64 < b.I64
	})
	for _, r := range tblRows {
		if err := c.applyTableRowLocked(r.PK, r.Cols); err != nil {
			return err
		}
	}

	userRows, err := c.sysUsers.Scan(engine.ScanAscending, -1)
	if err != nil {
		return fmt.Errorf("catalog: scan SYSTEM.USERS: %w", err)
	}
	for _, r := range userRows {
		c.applyUserRowLocked(r.PK, r.Cols)
	}

	ownerRows, err := c.sysOwners.Scan(engine.ScanAscending, -1)
	if err != nil {
		return fmt.Errorf("catalog: scan SYSTEM.KEYSPACE_OWNERS: %w", err)
	}
	for _, r := range ownerRows {
		c.applyOwnerRowLocked(r.PK, r.Cols)
	}

	grantRows, err := c.sysGrants.Scan(engine.ScanAscending, -1)
	if err != nil {
		return fmt.Errorf("catalog: scan SYSTEM.KEYSPACE_GRANTS: %w", err)
	}
	for _, r := range grantRows {
		c.applyGrantRowLocked(r.PK)
	}

	return nil
}

func findCol(cols []codec.Column, name string) (codec.Value, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c.Val, true
		}
	}
	return codec.Value{}, false
}

func (c *Catalog) applyKeyspaceRowLocked(pk codec.Value, cols []codec.Column) {
	name := pk.Str
	createdAt, _ := findCol(cols, "created_at")
	if _, exists := c.keyspaces[name]; !exists {
		c.keyspaceOrder = append(c.keyspaceOrder, name)
	}
	c.keyspaces[name] = KeyspaceMeta{Name: name, CreatedAt: createdAt.I64}
}

func (c *Catalog) applyTableRowLocked(pk codec.Value, cols []codec.Column) error {
	qualified := pk.Str
	ksV, _ := findCol(cols, "keyspace")
	tblV, _ := findCol(cols, "table")
	schemaV, _ := findCol(cols, "schema_json")
	createdAt, _ := findCol(cols, "created_at")

	var sc Schema
	if err := json.Unmarshal([]byte(schemaV.Str), &sc); err != nil {
		return fmt.Errorf("catalog: decode schema for %s: %w", qualified, err)
	}

	if _, exists := c.tableMetas[qualified]; !exists {
		c.tableOrder[ksV.Str] = append(c.tableOrder[ksV.Str], tblV.Str)
	}
	c.tableMetas[qualified] = TableMeta{
		Keyspace:  ksV.Str,
		Table:     tblV.Str,
		Schema:    sc,
		CreatedAt: createdAt.I64,
	}
	return nil
}

func (c *Catalog) applyUserRowLocked(pk codec.Value, cols []codec.Column) {
	username := pk.Str
	pwV, _ := findCol(cols, "password")
	lvlV, _ := findCol(cols, "level")
	enV, _ := findCol(cols, "enabled")
	createdAt, _ := findCol(cols, "created_at")
	c.users[username] = User{
		Username:  username,
		Password:  pwV.Str,
		Level:     AuthLevel(lvlV.I64),
		Enabled:   enV.B,
		CreatedAt: createdAt.I64,
	}
}

func (c *Catalog) applyOwnerRowLocked(pk codec.Value, cols []codec.Column) {
	keyspace := pk.Str
	ownerV, _ := findCol(cols, "owner_username")
	c.owners[keyspace] = ownerV.Str
}

func (c *Catalog) applyGrantRowLocked(pk codec.Value) {
	parts := strings.SplitN(pk.Str, "#", 2)
	if len(parts) != 2 {
		return
	}
	keyspace, username := parts[0], parts[1]
	if c.grants[username] == nil {
		c.grants[username] = make(map[string]bool)
	}
	c.grants[username][keyspace] = true
}

// installConfiguredAdmin overwrites (or creates) the admin account named
// by the config file: config always wins over a persisted row.
func (c *Catalog) installConfiguredAdmin(username, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowLocked()
	cols := []codec.Column{
		{Name: "password", Val: codec.Varchar(password)},
		{Name: "level", Val: codec.Int64(int64(LevelAdmin))},
		{Name: "enabled", Val: codec.Bool(true)},
		{Name: "created_at", Val: codec.Int64(now)},
	}
	pk := codec.Varchar(username)
	if err := c.sysUsers.Put(pk, cols); err != nil {
		return err
	}
	c.applyUserRowLocked(pk, cols)
	return nil
}

// nowLocked returns a monotonically-ish increasing timestamp for
// created_at columns. Callers hold c.mu.
func (c *Catalog) nowLocked() int64 {
	return currentUnixMillis()
}

// SystemInsert routes a generic INSERT INTO SYSTEM.<table> statement to
// the matching engine, keeping the in-memory indices consistent with
// what the executor just wrote. pk and cols must already be validated
// against SystemSchema(table).
func (c *Catalog) SystemInsert(table string, pk codec.Value, cols []codec.Column) error {
	t, err := c.systemTable(table)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := t.Put(pk, cols); err != nil {
		return err
	}
	switch table {
	case tableKeyspaces:
		c.applyKeyspaceRowLocked(pk, cols)
	case tableTables:
		return c.applyTableRowLocked(pk, cols)
	case tableUsers:
		c.applyUserRowLocked(pk, cols)
	case tableOwners:
		c.applyOwnerRowLocked(pk, cols)
	case tableGrants:
		c.applyGrantRowLocked(pk)
	}
	return nil
}

// SystemDelete routes a DELETE against a SYSTEM table to the matching
// engine and drops the corresponding in-memory index entry in the same
// call, mirroring SystemInsert.
func (c *Catalog) SystemDelete(table string, pk codec.Value) error {
	t, err := c.systemTable(table)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := t.Delete(pk); err != nil {
		return err
	}
	switch table {
	case tableKeyspaces:
		delete(c.keyspaces, pk.Str)
		c.keyspaceOrder = removeString(c.keyspaceOrder, pk.Str)
	case tableTables:
		if meta, ok := c.tableMetas[pk.Str]; ok {
			delete(c.tableMetas, pk.Str)
			c.tableOrder[meta.Keyspace] = removeString(c.tableOrder[meta.Keyspace], meta.Table)
		}
	case tableUsers:
		delete(c.users, pk.Str)
	case tableOwners:
		delete(c.owners, pk.Str)
	case tableGrants:
		parts := strings.SplitN(pk.Str, "#", 2)
		if len(parts) == 2 {
			delete(c.grants[parts[1]], parts[0])
		}
	}
	return nil
}

func (c *Catalog) systemTable(name string) (*engine.Table, error) {
	switch name {
	case tableKeyspaces:
		return c.sysKeyspaces, nil
	case tableTables:
		return c.sysTables, nil
	case tableUsers:
		return c.sysUsers, nil
	case tableOwners:
		return c.sysOwners, nil
	case tableGrants:
		return c.sysGrants, nil
	default:
		return nil, fmt.Errorf("catalog: unknown SYSTEM table %q", name)
	}
}

// Authenticate validates credentials, returning the matching user when
// they are correct and the account is enabled.
func (c *Catalog) Authenticate(username, password string) (User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[username]
	if !ok || !u.Enabled || u.Password != password {
		return User{}, false
	}
	return u, true
}

// VisibleKeyspaces lists the keyspace names a principal may see, in
// creation order: an admin sees SYSTEM plus every keyspace; a non-admin
// sees only keyspaces it owns or has been granted.
func (c *Catalog) VisibleKeyspaces(principal *User) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if principal != nil && principal.Level == LevelAdmin {
		out := make([]string, 0, len(c.keyspaceOrder)+1)
		out = append(out, SystemKeyspace)
		out = append(out, c.keyspaceOrder...)
		return out
	}

	var out []string
	if principal != nil {
		for _, name := range c.keyspaceOrder {
			if c.owners[name] == principal.Username || c.grants[principal.Username][name] {
				out = append(out, name)
			}
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// CanAccessKeyspace reports whether principal may reference keyspace
// (USE, SHOW TABLES IN, DDL, DML). Admins can reference anything
// including SYSTEM; non-admins can never name SYSTEM and otherwise need
// ownership or a grant.
func (c *Catalog) CanAccessKeyspace(principal *User, keyspace string) bool {
	if principal != nil && principal.Level == LevelAdmin {
		return true
	}
	if keyspace == SystemKeyspace {
		return false
	}
	if principal == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owners[keyspace] == principal.Username || c.grants[principal.Username][keyspace]
}

// KeyspaceExists reports whether keyspace is SYSTEM or a created
// keyspace.
func (c *Catalog) KeyspaceExists(keyspace string) bool {
	if keyspace == SystemKeyspace {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keyspaces[keyspace]
	return ok
}

// CreateKeyspace records a new keyspace. ifNotExists suppresses the
// already_exists condition.
func (c *Catalog) CreateKeyspace(name string, ifNotExists bool) (created bool, err error) {
	if name == SystemKeyspace {
		return false, fmt.Errorf("catalog: %s is reserved", SystemKeyspace)
	}

	c.mu.Lock()
	if _, exists := c.keyspaces[name]; exists {
		c.mu.Unlock()
		if ifNotExists {
			return false, nil
		}
		return false, ErrAlreadyExists
	}
	now := c.nowLocked()
	c.mu.Unlock()

	cols := []codec.Column{{Name: "created_at", Val: codec.Int64(now)}}
	if err := c.SystemInsert(tableKeyspaces, codec.Varchar(name), cols); err != nil {
		return false, err
	}
	return true, nil
}

// DropKeyspace removes a keyspace and cascades to every table it
// contains, deleting their on-disk state as well.
func (c *Catalog) DropKeyspace(name string, ifExists bool) error {
	if name == SystemKeyspace {
		return fmt.Errorf("catalog: %s cannot be dropped", SystemKeyspace)
	}

	c.mu.Lock()
	if _, exists := c.keyspaces[name]; !exists {
		c.mu.Unlock()
		if ifExists {
			return nil
		}
		return ErrNotFound
	}
	tables := append([]string(nil), c.tableOrder[name]...)
	c.mu.Unlock()

	for _, tbl := range tables {
		if err := c.DropTable(name, tbl, true); err != nil {
			return err
		}
	}

	c.mu.Lock()
	delete(c.keyspaces, name)
	c.keyspaceOrder = removeString(c.keyspaceOrder, name)
	delete(c.tableOrder, name)
	c.mu.Unlock()

	if err := c.sysKeyspaces.Delete(codec.Varchar(name)); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(c.dataDir, name))
}

// CreateTable records a new table's schema. ifNotExists suppresses the
// already_exists condition.
func (c *Catalog) CreateTable(keyspace, table string, schema Schema, ifNotExists bool) (created bool, err error) {
	qualified := Qualify(keyspace, table)

	c.mu.Lock()
	if _, exists := c.keyspaces[keyspace]; !exists && keyspace != SystemKeyspace {
		c.mu.Unlock()
		return false, ErrNotFound
	}
	if _, exists := c.tableMetas[qualified]; exists {
		c.mu.Unlock()
		if ifNotExists {
			return false, nil
		}
		return false, ErrAlreadyExists
	}
	now := c.nowLocked()
	c.mu.Unlock()

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return false, fmt.Errorf("catalog: encode schema: %w", err)
	}

	cols := []codec.Column{
		{Name: "keyspace", Val: codec.Varchar(keyspace)},
		{Name: "table", Val: codec.Varchar(table)},
		{Name: "schema_json", Val: codec.Varchar(string(schemaJSON))},
		{Name: "pk_column", Val: codec.Varchar(schema.PKColumn)},
		{Name: "created_at", Val: codec.Int64(now)},
	}
	if err := c.SystemInsert(tableTables, codec.Varchar(qualified), cols); err != nil {
		return false, err
	}
	return true, nil
}

// DropTable removes a table's metadata, closes its engine if open, and
// deletes its on-disk directory. ifExists suppresses not_found.
func (c *Catalog) DropTable(keyspace, table string, ifExists bool) error {
	qualified := Qualify(keyspace, table)

	c.mu.Lock()
	if _, exists := c.tableMetas[qualified]; !exists {
		c.mu.Unlock()
		if ifExists {
			return nil
		}
		return ErrNotFound
	}
	delete(c.tableMetas, qualified)
	c.tableOrder[keyspace] = removeString(c.tableOrder[keyspace], table)
	c.mu.Unlock()

	if eng, ok := c.engines.LoadAndDelete(qualified); ok {
		if err := eng.Drop(); err != nil {
			return fmt.Errorf("catalog: drop table %s: %w", qualified, err)
		}
	} else {
		dir := filepath.Join(c.dataDir, keyspace, table)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("catalog: drop table %s: %w", qualified, err)
		}
	}

	return c.sysTables.Delete(codec.Varchar(qualified))
}

// TableMeta returns the metadata for keyspace.table, or ok=false.
func (c *Catalog) TableMeta(keyspace, table string) (TableMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.tableMetas[Qualify(keyspace, table)]
	return m, ok
}

// ShowTables lists table names within keyspace, in creation order.
func (c *Catalog) ShowTables(keyspace string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := append([]string(nil), c.tableOrder[keyspace]...)
	if out == nil {
		out = []string{}
	}
	return out
}

// ShowKeyspaces lists every created keyspace, in creation order
// (SYSTEM is not included here; callers add it for admins via
// VisibleKeyspaces).
func (c *Catalog) ShowKeyspaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := append([]string(nil), c.keyspaceOrder...)
	if out == nil {
		out = []string{}
	}
	return out
}

// OpenEngine returns the storage engine for keyspace.table, opening it
// on first use and caching it in the concurrent registry thereafter.
func (c *Catalog) OpenEngine(keyspace, table string) (*engine.Table, error) {
	qualified := Qualify(keyspace, table)

	if eng, ok := c.engines.Load(qualified); ok {
		return eng, nil
	}

	var pkTag codec.Tag
	if keyspace == SystemKeyspace {
		sc, ok := SystemSchema(table)
		if !ok {
			return nil, ErrNotFound
		}
		pkTag = sc.PKTag()
	} else {
		meta, ok := c.TableMeta(keyspace, table)
		if !ok {
			return nil, ErrNotFound
		}
		pkTag = meta.Schema.PKTag()
	}

	dir := filepath.Join(c.dataDir, keyspace, table)
	eng, err := engine.OpenTable(dir, pkTag, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: open table %s: %w", qualified, err)
	}

	actual, loaded := c.engines.LoadOrStore(qualified, eng)
	if loaded {
		_ = eng.Close()
		return actual, nil
	}
	return eng, nil
}

// SystemEngine returns the already-open engine for one of the five
// built-in SYSTEM tables, used by the executor for SELECT/UPDATE/DELETE
// against them.
func (c *Catalog) SystemEngine(table string) (*engine.Table, error) {
	return c.systemTable(table)
}

// Close releases every open engine, including the five SYSTEM engines.
func (c *Catalog) Close() error {
	var firstErr error
	c.engines.Range(func(_ string, eng *engine.Table) bool {
		if err := eng.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	for _, eng := range []*engine.Table{c.sysKeyspaces, c.sysTables, c.sysUsers, c.sysOwners, c.sysGrants} {
		if err := eng.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func removeString(ss []string, s string) []string {
	out := ss[:0]
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
