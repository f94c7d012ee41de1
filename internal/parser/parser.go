package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse tokenizes and parses one statement line. A trailing ";" is
// optional: a statement is terminated by ';' or newline. Any syntax the
// grammar doesn't recognize yields an error; the caller (the executor)
// maps that to the wire "parse_error" kind.
func Parse(line string) (*Statement, error) {
	line = strings.TrimSpace(line)
	line = strings.TrimSuffix(strings.TrimRight(line, " \t"), ";")
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty statement")
	}

	toks, err := tokenize(line)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		return nil, fmt.Errorf("unexpected trailing input near %q", p.cur().text)
	}
	return stmt, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) cur() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) atEOF() bool { return p.pos >= len(p.toks) }

func (p *parser) advance() token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) expectKeyword(kw string) error {
	if !p.cur().is(kw) {
		return fmt.Errorf("expected %s, got %q", kw, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.cur().is(kw) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectPunct(pc string) error {
	if p.cur().kind != tokPunct || p.cur().text != pc {
		return fmt.Errorf("expected %q, got %q", pc, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) acceptPunct(pc string) bool {
	if p.cur().kind == tokPunct && p.cur().text == pc {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectIdent() (string, error) {
	t := p.cur()
	if t.kind != tokIdent {
		return "", fmt.Errorf("expected identifier, got %q", t.text)
	}
	p.advance()
	return t.text, nil
}

func (p *parser) parseStatement() (*Statement, error) {
	t := p.cur()
	if t.kind != tokIdent {
		return nil, fmt.Errorf("expected statement keyword, got %q", t.text)
	}

	switch {
	case t.is("PING"):
		p.advance()
		return &Statement{Kind: Ping}, nil
	case t.is("AUTH"):
		return p.parseAuth()
	case t.is("USE"):
		return p.parseUse()
	case t.is("SHOW"):
		return p.parseShow()
	case t.is("DESCRIBE"):
		return p.parseDescribe()
	case t.is("CREATE"):
		return p.parseCreate()
	case t.is("DROP"):
		return p.parseDrop()
	case t.is("TRUNCATE"):
		return p.parseTruncate()
	case t.is("INSERT"):
		return p.parseInsert()
	case t.is("SELECT"):
		return p.parseSelect()
	case t.is("UPDATE"):
		return p.parseUpdate()
	case t.is("DELETE"):
		return p.parseDelete()
	case t.is("FLUSH"):
		return p.parseFlush()
	default:
		return nil, fmt.Errorf("unrecognized statement %q", t.text)
	}
}

func (p *parser) parseAuth() (*Statement, error) {
	p.advance() // AUTH
	user, err := p.parseStringLiteral()
	if err != nil {
		return nil, err
	}
	pass, err := p.parseStringLiteral()
	if err != nil {
		return nil, err
	}
	return &Statement{Kind: Auth, Username: user, Password: pass}, nil
}

func (p *parser) parseStringLiteral() (string, error) {
	t := p.cur()
	if t.kind != tokString {
		return "", fmt.Errorf("expected string literal, got %q", t.text)
	}
	p.advance()
	return t.text, nil
}

func (p *parser) parseUse() (*Statement, error) {
	p.advance() // USE
	ks, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return &Statement{Kind: Use, Keyspace: ks}, nil
}

func (p *parser) parseShow() (*Statement, error) {
	p.advance() // SHOW
	switch {
	case p.cur().is("KEYSPACES"):
		p.advance()
		return &Statement{Kind: ShowKeyspaces}, nil
	case p.cur().is("TABLES"):
		p.advance()
		if err := p.expectKeyword("IN"); err != nil {
			return nil, err
		}
		ks, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &Statement{Kind: ShowTables, Keyspace: ks}, nil
	case p.cur().is("CREATE"):
		p.advance()
		if err := p.expectKeyword("TABLE"); err != nil {
			return nil, err
		}
		tn, err := p.parseTableName()
		if err != nil {
			return nil, err
		}
		return &Statement{Kind: ShowCreateTable, Table: tn}, nil
	default:
		return nil, fmt.Errorf("expected KEYSPACES, TABLES or CREATE after SHOW, got %q", p.cur().text)
	}
}

func (p *parser) parseDescribe() (*Statement, error) {
	p.advance() // DESCRIBE
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	tn, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	return &Statement{Kind: DescribeTable, Table: tn}, nil
}

// parseIfClause consumes an optional "IF NOT EXISTS" or "IF EXISTS"
// clause.
func (p *parser) parseIfClause() (ifNotExists, ifExists bool, err error) {
	if !p.acceptKeyword("IF") {
		return false, false, nil
	}
	if p.acceptKeyword("NOT") {
		if err := p.expectKeyword("EXISTS"); err != nil {
			return false, false, err
		}
		return true, false, nil
	}
	if err := p.expectKeyword("EXISTS"); err != nil {
		return false, false, err
	}
	return false, true, nil
}

func (p *parser) parseCreate() (*Statement, error) {
	p.advance() // CREATE
	switch {
	case p.cur().is("KEYSPACE"):
		p.advance()
		ine, _, err := p.parseIfClause()
		if err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &Statement{Kind: CreateKeyspace, Keyspace: name, IfNotExists: ine}, nil
	case p.cur().is("TABLE"):
		p.advance()
		ine, _, err := p.parseIfClause()
		if err != nil {
			return nil, err
		}
		tn, err := p.parseTableName()
		if err != nil {
			return nil, err
		}
		cols, err := p.parseColumnDefs()
		if err != nil {
			return nil, err
		}
		return &Statement{Kind: CreateTable, Table: tn, IfNotExists: ine, Columns: cols}, nil
	default:
		return nil, fmt.Errorf("expected KEYSPACE or TABLE after CREATE, got %q", p.cur().text)
	}
}

// parseColumnDefs parses a CREATE TABLE column list. The primary key is
// designated either inline ("id int64 PRIMARY KEY") or with a trailing
// "PRIMARY KEY (id)" element, the form SHOW CREATE TABLE renders.
func (p *parser) parseColumnDefs() ([]ColumnDef, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var cols []ColumnDef
	pkName := ""
	for {
		if p.acceptKeyword("PRIMARY") {
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			if pkName != "" {
				return nil, fmt.Errorf("duplicate PRIMARY KEY clause")
			}
			pkName = name
		} else {
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			typ, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			pk := false
			if p.acceptKeyword("PRIMARY") {
				if err := p.expectKeyword("KEY"); err != nil {
					return nil, err
				}
				pk = true
			}
			cols = append(cols, ColumnDef{Name: name, Type: strings.ToLower(typ), PrimaryKey: pk})
		}
		if p.acceptPunct(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if pkName != "" {
		for i := range cols {
			if cols[i].Name == pkName {
				cols[i].PrimaryKey = true
			}
		}
	}
	return cols, nil
}

func (p *parser) parseDrop() (*Statement, error) {
	p.advance() // DROP
	switch {
	case p.cur().is("KEYSPACE"):
		p.advance()
		_, ie, err := p.parseIfClause()
		if err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &Statement{Kind: DropKeyspace, Keyspace: name, IfExists: ie}, nil
	case p.cur().is("TABLE"):
		p.advance()
		_, ie, err := p.parseIfClause()
		if err != nil {
			return nil, err
		}
		tn, err := p.parseTableName()
		if err != nil {
			return nil, err
		}
		return &Statement{Kind: DropTable, Table: tn, IfExists: ie}, nil
	default:
		return nil, fmt.Errorf("expected KEYSPACE or TABLE after DROP, got %q", p.cur().text)
	}
}

func (p *parser) parseTruncate() (*Statement, error) {
	p.advance() // TRUNCATE
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	tn, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	return &Statement{Kind: TruncateTable, Table: tn}, nil
}

func (p *parser) parseFlush() (*Statement, error) {
	p.advance() // FLUSH
	tn, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	return &Statement{Kind: Flush, Table: tn}, nil
}

func (p *parser) parseTableName() (TableName, error) {
	first, err := p.expectIdent()
	if err != nil {
		return TableName{}, err
	}
	if p.acceptPunct(".") {
		second, err := p.expectIdent()
		if err != nil {
			return TableName{}, err
		}
		return TableName{Keyspace: first, Table: second}, nil
	}
	return TableName{Table: first}, nil
}

func (p *parser) parseInsert() (*Statement, error) {
	p.advance() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	tn, err := p.parseTableName()
	if err != nil {
		return nil, err
	}

	cols, err := p.parseIdentList()
	if err != nil {
		return nil, err
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}

	var rows [][]Literal
	for {
		row, err := p.parseLiteralList()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		if p.acceptPunct(",") {
			continue
		}
		break
	}

	return &Statement{Kind: Insert, Table: tn, InsertColumns: cols, InsertRows: rows}, nil
}

func (p *parser) parseIdentList() ([]string, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var out []string
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		out = append(out, name)
		if p.acceptPunct(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *parser) parseLiteralList() ([]Literal, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var out []Literal
	for {
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		out = append(out, lit)
		if p.acceptPunct(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *parser) parseLiteral() (Literal, error) {
	t := p.cur()
	switch t.kind {
	case tokString:
		p.advance()
		return Literal{Kind: LitString, Str: t.text}, nil
	case tokNumber:
		p.advance()
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return Literal{}, fmt.Errorf("invalid integer literal %q: %w", t.text, err)
		}
		return Literal{Kind: LitInt, Int: n}, nil
	case tokHex:
		p.advance()
		return Literal{Kind: LitBinaryHex, Str: t.text}, nil
	case tokIdent:
		switch {
		case t.is("true"):
			p.advance()
			return Literal{Kind: LitBool, Bool: true}, nil
		case t.is("false"):
			p.advance()
			return Literal{Kind: LitBool, Bool: false}, nil
		case t.is("null"):
			p.advance()
			return Literal{Kind: LitNull}, nil
		}
	}
	return Literal{}, fmt.Errorf("expected a literal value, got %q", t.text)
}

func (p *parser) parseSelect() (*Statement, error) {
	p.advance() // SELECT
	stmt := &Statement{Kind: Select}

	if p.acceptPunct("*") {
		stmt.SelectStar = true
	} else {
		for {
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			stmt.SelectColumns = append(stmt.SelectColumns, name)
			if p.acceptPunct(",") {
				continue
			}
			break
		}
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	tn, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	stmt.Table = tn

	if p.acceptKeyword("WHERE") {
		w, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}

	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		if _, err := p.expectIdent(); err != nil { // any identifier is accepted and discarded; scans always order by the pk
			return nil, err
		}
		stmt.HasOrderBy = true
		switch {
		case p.acceptKeyword("ASC"):
			stmt.OrderDesc = false
		case p.acceptKeyword("DESC"):
			stmt.OrderDesc = true
		default:
			return nil, fmt.Errorf("expected ASC or DESC, got %q", p.cur().text)
		}
	}

	if p.acceptKeyword("LIMIT") {
		t := p.cur()
		if t.kind != tokNumber {
			return nil, fmt.Errorf("expected a number after LIMIT, got %q", t.text)
		}
		p.advance()
		n, err := strconv.Atoi(t.text)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid LIMIT %q", t.text)
		}
		stmt.HasLimit = true
		stmt.Limit = n
	}

	return stmt, nil
}

func (p *parser) parseWhere() (*Where, error) {
	col, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("="); err != nil {
		return nil, err
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &Where{Column: col, Value: lit}, nil
}

func (p *parser) parseUpdate() (*Statement, error) {
	p.advance() // UPDATE
	tn, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}

	var assigns []Assignment
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, Assignment{Column: col, Value: lit})
		if p.acceptPunct(",") {
			continue
		}
		break
	}

	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	w, err := p.parseWhere()
	if err != nil {
		return nil, err
	}

	return &Statement{Kind: Update, Table: tn, Assignments: assigns, Where: w}, nil
}

func (p *parser) parseDelete() (*Statement, error) {
	p.advance() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	tn, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	w, err := p.parseWhere()
	if err != nil {
		return nil, err
	}
	return &Statement{Kind: Delete, Table: tn, Where: w}, nil
}
