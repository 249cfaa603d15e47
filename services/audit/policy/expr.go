// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrRuleEvaluation wraps every parse and evaluation failure so callers
// can distinguish a broken condition from an ordinary false verdict.
var ErrRuleEvaluation = errors.New("rule evaluation error")

// Grammar, lowest precedence first:
//
//	expr   := and { "or" and }
//	and    := unary { "and" unary }
//	unary  := "not" unary | cmp
//	cmp    := term [ ("=="|"!="|"<"|"<="|">"|">="|"in") term ]
//	term   := literal | list | "(" expr ")" | func "(" expr ")" | path
//	path   := ident { "." ident | "[" literal "]" | ".get(" term ["," term] ")" }
//
// Allowed functions: int, len. Literals: single or double quoted
// strings, numbers, true, false, null/none. Anything else is rejected
// at parse time.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp    // == != < <= > >=
	tokPunct // . , ( ) [ ]
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]

	switch {
	case c == '\'' || c == '"':
		quote := c
		l.pos++
		var sb strings.Builder
		for l.pos < len(l.input) && l.input[l.pos] != quote {
			sb.WriteByte(l.input[l.pos])
			l.pos++
		}
		if l.pos >= len(l.input) {
			return token{}, fmt.Errorf("unterminated string at offset %d", start)
		}
		l.pos++
		return token{kind: tokString, text: sb.String(), pos: start}, nil

	case unicode.IsDigit(rune(c)):
		for l.pos < len(l.input) && (unicode.IsDigit(rune(l.input[l.pos])) || l.input[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokNumber, text: l.input[start:l.pos], pos: start}, nil

	case unicode.IsLetter(rune(c)) || c == '_':
		for l.pos < len(l.input) && (unicode.IsLetter(rune(l.input[l.pos])) || unicode.IsDigit(rune(l.input[l.pos])) || l.input[l.pos] == '_') {
			l.pos++
		}
		return token{kind: tokIdent, text: l.input[start:l.pos], pos: start}, nil

	case strings.ContainsRune("=!<>", rune(c)):
		l.pos++
		if l.pos < len(l.input) && l.input[l.pos] == '=' {
			l.pos++
		}
		op := l.input[start:l.pos]
		switch op {
		case "==", "!=", "<", "<=", ">", ">=":
			return token{kind: tokOp, text: op, pos: start}, nil
		default:
			return token{}, fmt.Errorf("unknown operator %q at offset %d", op, start)
		}

	case strings.ContainsRune(".,()[]", rune(c)):
		l.pos++
		return token{kind: tokPunct, text: string(c), pos: start}, nil

	default:
		return token{}, fmt.Errorf("unexpected character %q at offset %d", c, start)
	}
}

type nodeKind int

const (
	nodeLiteral nodeKind = iota
	nodeList
	nodePath
	nodeCall
	nodeNot
	nodeBinary
)

// pathStep is one postfix access on a path expression.
type pathStep struct {
	// key is the accessed field or index spelling.
	key string
	// get marks a .get(key, default) access; def holds the default
	// expression, nil when omitted.
	get bool
	def *node
	// keyExpr carries a non-identifier key for get and bracket access.
	keyExpr *node
}

// node is one vertex of the parsed expression tree.
type node struct {
	kind nodeKind

	lit   any        // nodeLiteral
	elems []*node    // nodeList
	root  string     // nodePath
	steps []pathStep // nodePath
	fn    string     // nodeCall
	arg   *node      // nodeCall, nodeNot
	op    string     // nodeBinary: comparison ops, "in", "and", "or"
	left  *node      // nodeBinary
	right *node      // nodeBinary
}

type parser struct {
	tokens []token
	pos    int
}

// ParseCondition parses a rule condition into an expression tree. The
// input must consume fully; trailing tokens are rejected.
func ParseCondition(condition string) (*node, error) {
	lex := &lexer{input: condition}
	var tokens []token
	for {
		tok, err := lex.next()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRuleEvaluation, err)
		}
		tokens = append(tokens, tok)
		if tok.kind == tokEOF {
			break
		}
	}

	p := &parser{tokens: tokens}
	tree, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleEvaluation, err)
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected token %q at offset %d", ErrRuleEvaluation, p.peek().text, p.peek().pos)
	}
	return tree, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expectPunct(text string) error {
	tok := p.advance()
	if tok.kind != tokPunct || tok.text != text {
		return fmt.Errorf("expected %q at offset %d, got %q", text, tok.pos, tok.text)
	}
	return nil
}

func (p *parser) parseExpr() (*node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "or" {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeBinary, op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (*node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "and" {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeBinary, op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (*node, error) {
	if p.peek().kind == tokIdent && p.peek().text == "not" {
		p.advance()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &node{kind: nodeNot, arg: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (*node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	switch {
	case tok.kind == tokOp:
		p.advance()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return &node{kind: nodeBinary, op: tok.text, left: left, right: right}, nil
	case tok.kind == tokIdent && tok.text == "in":
		p.advance()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return &node{kind: nodeBinary, op: "in", left: left, right: right}, nil
	default:
		return left, nil
	}
}

func (p *parser) parseTerm() (*node, error) {
	tok := p.peek()
	switch tok.kind {
	case tokString:
		p.advance()
		return &node{kind: nodeLiteral, lit: tok.text}, nil

	case tokNumber:
		p.advance()
		n, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at offset %d", tok.text, tok.pos)
		}
		return &node{kind: nodeLiteral, lit: n}, nil

	case tokPunct:
		switch tok.text {
		case "(":
			p.advance()
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			return p.parseList()
		}

	case tokIdent:
		switch tok.text {
		case "true", "True":
			p.advance()
			return &node{kind: nodeLiteral, lit: true}, nil
		case "false", "False":
			p.advance()
			return &node{kind: nodeLiteral, lit: false}, nil
		case "null", "none", "None":
			p.advance()
			return &node{kind: nodeLiteral, lit: nil}, nil
		case "int", "len":
			return p.parseCall()
		case "and", "or", "not", "in":
			return nil, fmt.Errorf("unexpected keyword %q at offset %d", tok.text, tok.pos)
		default:
			return p.parsePath()
		}
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", tok.text, tok.pos)
}

func (p *parser) parseList() (*node, error) {
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	list := &node{kind: nodeList}
	if p.peek().kind == tokPunct && p.peek().text == "]" {
		p.advance()
		return list, nil
	}
	for {
		elem, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		list.elems = append(list.elems, elem)
		tok := p.advance()
		if tok.kind == tokPunct && tok.text == "]" {
			return list, nil
		}
		if tok.kind != tokPunct || tok.text != "," {
			return nil, fmt.Errorf("expected ',' or ']' at offset %d, got %q", tok.pos, tok.text)
		}
	}
}

// parseCall handles the two allow-listed functions. A call is the only
// place an identifier may be followed by '(' outside a path's .get.
func (p *parser) parseCall() (*node, error) {
	fn := p.advance()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	arg, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &node{kind: nodeCall, fn: fn.text, arg: arg}, nil
}

func (p *parser) parsePath() (*node, error) {
	root := p.advance()
	path := &node{kind: nodePath, root: root.text}

	for {
		tok := p.peek()
		if tok.kind != tokPunct {
			return path, nil
		}
		switch tok.text {
		case ".":
			p.advance()
			next := p.advance()
			if next.kind != tokIdent {
				return nil, fmt.Errorf("expected field name at offset %d, got %q", next.pos, next.text)
			}
			if next.text == "get" && p.peek().kind == tokPunct && p.peek().text == "(" {
				step, err := p.parseGet()
				if err != nil {
					return nil, err
				}
				path.steps = append(path.steps, step)
				continue
			}
			if p.peek().kind == tokPunct && p.peek().text == "(" {
				return nil, fmt.Errorf("method %q is not allowed at offset %d", next.text, next.pos)
			}
			path.steps = append(path.steps, pathStep{key: next.text})
		case "[":
			p.advance()
			key, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			path.steps = append(path.steps, pathStep{keyExpr: key})
		default:
			return path, nil
		}
	}
}

func (p *parser) parseGet() (pathStep, error) {
	if err := p.expectPunct("("); err != nil {
		return pathStep{}, err
	}
	key, err := p.parseTerm()
	if err != nil {
		return pathStep{}, err
	}
	step := pathStep{get: true, keyExpr: key}
	tok := p.advance()
	if tok.kind == tokPunct && tok.text == "," {
		def, err := p.parseTerm()
		if err != nil {
			return pathStep{}, err
		}
		step.def = def
		tok = p.advance()
	}
	if tok.kind != tokPunct || tok.text != ")" {
		return pathStep{}, fmt.Errorf("expected ')' at offset %d, got %q", tok.pos, tok.text)
	}
	return step, nil
}
