package tool

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// CalculatorTool evaluates arithmetic expressions. Supported: + - * / ^,
// unary minus, parentheses, decimal numbers. Args: "expression" (string).
type CalculatorTool struct{}

// NewCalculatorTool creates the calculator.
func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

// Name implements Tool.
func (t *CalculatorTool) Name() string { return "calculator" }

// Run implements Tool. Malformed expressions are reported in the Result.
func (t *CalculatorTool) Run(_ context.Context, args map[string]any) (Result, error) {
	expr, ok := args["expression"].(string)
	if !ok || strings.TrimSpace(expr) == "" {
		return Result{}, fmt.Errorf("calculator: missing required arg %q", "expression")
	}

	value, err := evalExpression(expr)
	if err != nil {
		return Result{
			Success: false,
			Err:     err.Error(),
			Payload: map[string]any{"expression": expr},
		}, nil
	}

	return Result{
		Success: true,
		Payload: map[string]any{
			"expression": expr,
			"result":     value,
		},
	}, nil
}

// exprParser is a recursive-descent parser over a token-free byte walk.
// Grammar, lowest precedence first:
//
//	expr   = term (('+' | '-') term)*
//	term   = unary (('*' | '/') unary)*
//	unary  = '-' unary | power
//	power  = atom ('^' unary)?          right associative
//	atom   = number | '(' expr ')'
type exprParser struct {
	input string
	pos   int
}

func evalExpression(expr string) (float64, error) {
	p := &exprParser{input: expr}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("expression result is not a finite number")
	}
	return value, nil
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		value, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return -value, nil
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		exp, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parseAtom() (float64, error) {
	if p.peek() == '(' {
		p.pos++
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		p.pos++
		return value, nil
	}
	return p.parseNumber()
}

func (p *exprParser) parseNumber() (float64, error) {
	p.skipSpaces()
	start := p.pos
	for p.pos < len(p.input) {
		c := rune(p.input[p.pos])
		if !unicode.IsDigit(c) && c != '.' {
			break
		}
		p.pos++
	}
	if start == p.pos {
		if p.pos >= len(p.input) {
			return 0, fmt.Errorf("unexpected end of expression")
		}
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return value, nil
}

// peek skips spaces and returns the next byte without consuming it,
// or 0 at end of input.
func (p *exprParser) peek() byte {
	p.skipSpaces()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}
