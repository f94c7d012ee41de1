// Package parser implements the tokenizer and recursive-descent parser
// for the statement dialect: one statement per line, parsed into a
// Statement the executor can dispatch on directly.
package parser

// Kind identifies which statement form a parsed Statement holds.
type Kind int

const (
	Ping Kind = iota
	Auth
	Use
	ShowKeyspaces
	ShowTables
	DescribeTable
	ShowCreateTable
	CreateKeyspace
	DropKeyspace
	CreateTable
	DropTable
	TruncateTable
	Insert
	Select
	Update
	Delete
	Flush
)

// TableName is a possibly-qualified "keyspace.table" reference; Keyspace
// is empty when the statement named only the bare table and relies on
// the session's current USE keyspace.
type TableName struct {
	Keyspace string
	Table    string
}

// ColumnDef is one column of a CREATE TABLE column list.
type ColumnDef struct {
	Name       string
	Type       string
	PrimaryKey bool
}

// LitKind distinguishes the lexical forms a literal can take; the
// executor resolves LitString against the target column's declared type
// (varchar, date or timestamp) since the grammar alone can't tell them
// apart.
type LitKind int

const (
	LitString LitKind = iota
	LitInt
	LitBool
	LitNull
	LitBinaryHex
)

// Literal is an unresolved statement literal, exactly as written.
type Literal struct {
	Kind LitKind
	Str  string // raw text for LitString and LitBinaryHex (hex digits, no "0x")
	Int  int64
	Bool bool
}

// Assignment is one "column = literal" pair of an UPDATE's SET list.
type Assignment struct {
	Column string
	Value  Literal
}

// Where is the single "pk = literal" equality predicate the dialect
// supports: no AND/OR, no secondary indexes.
type Where struct {
	Column string
	Value  Literal
}

// Statement is the parsed form of one line of input. Only the fields
// relevant to Kind are populated; zero values elsewhere.
type Statement struct {
	Kind Kind

	// Auth
	Username string
	Password string

	// Use / ShowTables
	Keyspace string

	// Table-targeting statements
	Table TableName

	IfNotExists bool
	IfExists    bool

	// CreateTable
	Columns []ColumnDef

	// Insert
	InsertColumns []string
	InsertRows    [][]Literal

	// Update
	Assignments []Assignment

	// Select
	SelectStar    bool
	SelectColumns []string
	Where         *Where
	HasOrderBy    bool
	OrderDesc     bool
	HasLimit      bool
	Limit         int
}
