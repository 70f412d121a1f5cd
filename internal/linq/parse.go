package linq

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/operators"
	"github.com/shopspring/decimal"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/roach88/quill/internal/expr"
	"github.com/roach88/quill/internal/model"
)

// ParseError reports query text that cannot be turned into an expression.
type ParseError struct {
	Source  string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("PARSE: %s in %q", e.Message, e.Source)
}

// IsParseError reports whether err is a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Parser reads textual queries. Query text is a CEL expression in which
// query operators are receiver calls; identifier arguments in front of a
// selector name its lambda parameters:
//
//	Person.where(p, p.Age > 30).orderBy(p, p.Name).select(p, {"name": p.Name})
//	Person.groupBy(p, p.Company, k, g, {"company": k.Name, "n": g.count()})
//	Person.join(Company, p, c, p.Company == c, {"person": p.Name, "company": c.Name})
//
// Unknown identifiers resolve to entity sources, then to variables
// registered with WithVariable. CEL macros are disabled so that all, exists
// and map stay plain calls.
type Parser struct {
	model *model.Model
	env   *cel.Env
	vars  map[string]*expr.Cell
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithVariable makes name resolve to a captured variable.
func WithVariable(name string, c *expr.Cell) ParserOption {
	return func(p *Parser) { p.vars[name] = c }
}

// NewParser returns a parser for queries over m.
func NewParser(m *model.Model, opts ...ParserOption) (*Parser, error) {
	env, err := cel.NewEnv(cel.ClearMacros())
	if err != nil {
		return nil, fmt.Errorf("linq: cel environment: %w", err)
	}
	p := &Parser{model: m, env: env, vars: make(map[string]*expr.Cell)}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Parser) parse(src string) (*exprpb.Expr, error) {
	ast, iss := p.env.Parse(src)
	if iss != nil && iss.Err() != nil {
		return nil, &ParseError{Source: src, Message: iss.Err().Error()}
	}
	parsed, err := cel.AstToParsedExpr(ast)
	if err != nil {
		return nil, &ParseError{Source: src, Message: err.Error()}
	}
	return parsed.GetExpr(), nil
}

// Parse converts a query.
func (p *Parser) Parse(src string) (expr.Node, error) {
	root, err := p.parse(src)
	if err != nil {
		return nil, err
	}
	c := &converter{b: New(p.model), vars: p.vars, src: src}
	out, err := c.convert(root, nil)
	if err != nil {
		return nil, err
	}
	if c.err != nil {
		return nil, c.err
	}
	if err := c.b.Err(); err != nil {
		return nil, &ParseError{Source: src, Message: err.Error()}
	}
	return out.node, nil
}

// ParseLambda converts "x => body" or "(a, b) => body" with the given
// parameter types.
func (p *Parser) ParseLambda(src string, types ...*expr.Type) (*expr.Lambda, error) {
	head, body, ok := strings.Cut(src, "=>")
	if !ok {
		return nil, &ParseError{Source: src, Message: "missing =>"}
	}
	head = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(head), "("), ")")
	idents := strings.Split(head, ",")
	if len(idents) != len(types) {
		return nil, &ParseError{Source: src, Message: fmt.Sprintf("lambda has %d parameters, want %d", len(idents), len(types))}
	}
	root, err := p.parse(body)
	if err != nil {
		return nil, err
	}
	c := &converter{b: New(p.model), vars: p.vars, src: src}
	var env names
	params := make([]*expr.Parameter, len(idents))
	for i, n := range idents {
		params[i] = c.b.param(strings.TrimSpace(n), types[i])
		env = env.with(params[i].Name, Expr{b: c.b, node: params[i]})
	}
	out, err := c.convert(root, env)
	if err != nil {
		return nil, err
	}
	if c.err != nil {
		return nil, c.err
	}
	if err := c.b.Err(); err != nil {
		return nil, &ParseError{Source: src, Message: err.Error()}
	}
	return &expr.Lambda{Params: params, Body: out.node}, nil
}

// names is an immutable scope of lambda parameters.
type names []struct {
	name string
	e    Expr
}

func (n names) with(name string, e Expr) names {
	out := make(names, len(n), len(n)+1)
	copy(out, n)
	return append(out, struct {
		name string
		e    Expr
	}{name, e})
}

func (n names) lookup(name string) (Expr, bool) {
	for i := len(n) - 1; i >= 0; i-- {
		if n[i].name == name {
			return n[i].e, true
		}
	}
	return Expr{}, false
}

type converter struct {
	b    *Builder
	vars map[string]*expr.Cell
	src  string
	// err holds the first failure inside a selector callback.
	err error
}

func (c *converter) errorf(format string, args ...any) error {
	return &ParseError{Source: c.src, Message: fmt.Sprintf(format, args...)}
}

var binaryOps = map[string]expr.BinaryOp{
	operators.Equals:        expr.OpEq,
	operators.NotEquals:     expr.OpNe,
	operators.Less:          expr.OpLt,
	operators.LessEquals:    expr.OpLe,
	operators.Greater:       expr.OpGt,
	operators.GreaterEquals: expr.OpGe,
	operators.Add:           expr.OpAdd,
	operators.Subtract:      expr.OpSub,
	operators.Multiply:      expr.OpMul,
	operators.Divide:        expr.OpDiv,
	operators.Modulo:        expr.OpMod,
	operators.LogicalAnd:    expr.OpAnd,
	operators.LogicalOr:     expr.OpOr,
}

var mathFuncs = map[string]string{
	"abs":     expr.MethodAbs,
	"round":   expr.MethodRound,
	"floor":   expr.MethodFloor,
	"ceiling": expr.MethodCeiling,
}

var conversions = map[string]*expr.Type{
	"int":    expr.Int,
	"double": expr.Float,
	"string": expr.String,
}

func (c *converter) convert(e *exprpb.Expr, env names) (Expr, error) {
	switch k := e.GetExprKind().(type) {
	case *exprpb.Expr_ConstExpr:
		v, err := c.constant(k.ConstExpr)
		if err != nil {
			return Expr{}, err
		}
		return c.b.Lit(v), nil
	case *exprpb.Expr_IdentExpr:
		return c.ident(k.IdentExpr.GetName(), env)
	case *exprpb.Expr_SelectExpr:
		if k.SelectExpr.GetTestOnly() {
			return Expr{}, c.errorf("has() is not supported")
		}
		obj, err := c.convert(k.SelectExpr.GetOperand(), env)
		if err != nil {
			return Expr{}, err
		}
		return obj.Get(k.SelectExpr.GetField()), nil
	case *exprpb.Expr_CallExpr:
		return c.call(k.CallExpr, env)
	case *exprpb.Expr_ListExpr:
		list, err := c.list(k.ListExpr)
		if err != nil {
			return Expr{}, err
		}
		return c.b.Lit(list), nil
	case *exprpb.Expr_StructExpr:
		return c.anonymous(k.StructExpr, env)
	}
	return Expr{}, c.errorf("unsupported expression")
}

func (c *converter) constant(k *exprpb.Constant) (any, error) {
	switch v := k.GetConstantKind().(type) {
	case *exprpb.Constant_NullValue:
		return nil, nil
	case *exprpb.Constant_BoolValue:
		return v.BoolValue, nil
	case *exprpb.Constant_Int64Value:
		return v.Int64Value, nil
	case *exprpb.Constant_Uint64Value:
		return int64(v.Uint64Value), nil
	case *exprpb.Constant_DoubleValue:
		return v.DoubleValue, nil
	case *exprpb.Constant_StringValue:
		return v.StringValue, nil
	}
	return nil, c.errorf("unsupported literal")
}

func (c *converter) ident(name string, env names) (Expr, error) {
	if e, ok := env.lookup(name); ok {
		return e, nil
	}
	if info, ok := c.b.model.Type(name); ok && info.IsEntity() {
		return c.b.From(name).Expr(), nil
	}
	if cell, ok := c.vars[name]; ok {
		return c.b.Capture(name, cell), nil
	}
	return Expr{}, c.errorf("unknown identifier %s", name)
}

func (c *converter) list(l *exprpb.Expr_CreateList) ([]any, error) {
	out := make([]any, len(l.GetElements()))
	for i, el := range l.GetElements() {
		k, ok := el.GetExprKind().(*exprpb.Expr_ConstExpr)
		if !ok {
			return nil, c.errorf("list elements must be literals")
		}
		v, err := c.constant(k.ConstExpr)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *converter) anonymous(s *exprpb.Expr_CreateStruct, env names) (Expr, error) {
	fields := make([]Field, 0, len(s.GetEntries()))
	for _, entry := range s.GetEntries() {
		name := entry.GetFieldKey()
		if mk := entry.GetMapKey(); mk != nil {
			k, ok := mk.GetExprKind().(*exprpb.Expr_ConstExpr)
			if !ok {
				return Expr{}, c.errorf("member names must be string literals")
			}
			sv, ok := k.ConstExpr.GetConstantKind().(*exprpb.Constant_StringValue)
			if !ok {
				return Expr{}, c.errorf("member names must be string literals")
			}
			name = sv.StringValue
		}
		v, err := c.convert(entry.GetValue(), env)
		if err != nil {
			return Expr{}, err
		}
		fields = append(fields, F(name, v))
	}
	return c.b.Anonymous(fields...), nil
}

func (c *converter) args(args []*exprpb.Expr, env names) ([]Expr, error) {
	out := make([]Expr, len(args))
	for i, a := range args {
		v, err := c.convert(a, env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *converter) call(call *exprpb.Expr_Call, env names) (Expr, error) {
	fn, raw := call.GetFunction(), call.GetArgs()
	if call.GetTarget() != nil {
		target, err := c.convert(call.GetTarget(), env)
		if err != nil {
			return Expr{}, err
		}
		if t := target.Type(); t != nil && t.IsSequence() {
			return c.operator(target.Seq(), fn, raw, env)
		}
		args, err := c.args(raw, env)
		if err != nil {
			return Expr{}, err
		}
		return c.method(target, fn, args)
	}

	if fn == operators.In && len(raw) == 2 {
		return c.in(raw[0], raw[1], env)
	}
	args, err := c.args(raw, env)
	if err != nil {
		return Expr{}, err
	}
	if op, ok := binaryOps[fn]; ok && len(args) == 2 {
		return args[0].binary(op, args[1]), nil
	}
	switch {
	case fn == operators.LogicalNot && len(args) == 1:
		return args[0].Not(), nil
	case fn == operators.Negate && len(args) == 1:
		return args[0].Neg(), nil
	case fn == operators.Conditional && len(args) == 3:
		return c.b.Cond(args[0], args[1], args[2]), nil
	case fn == "coalesce" && len(args) == 2:
		return args[0].Coalesce(args[1]), nil
	case fn == "decimal" && len(args) == 1:
		lit, ok := args[0].node.(*expr.Constant)
		if !ok {
			return Expr{}, c.errorf("decimal() takes a string literal")
		}
		s, ok := lit.Value.(string)
		if !ok {
			return Expr{}, c.errorf("decimal() takes a string literal")
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Expr{}, c.errorf("decimal(%q): %v", s, err)
		}
		return c.b.Lit(d), nil
	}
	if m, ok := mathFuncs[fn]; ok && len(args) == 1 {
		return args[0].Math(m), nil
	}
	if t, ok := conversions[fn]; ok && len(args) == 1 {
		return args[0].As(t), nil
	}
	return Expr{}, c.errorf("unknown function %s/%d", fn, len(args))
}

// method handles instance methods of scalars.
func (c *converter) method(target Expr, fn string, args []Expr) (Expr, error) {
	switch {
	case fn == "size" && len(args) == 0:
		return target.Get("Length"), nil
	case fn == "startsWith" && len(args) == 1:
		return target.StartsWith(args[0]), nil
	case fn == "endsWith" && len(args) == 1:
		return target.EndsWith(args[0]), nil
	case fn == "contains" && len(args) == 1:
		return target.HasSubstring(args[0]), nil
	case fn == "toUpper" && len(args) == 0:
		return target.ToUpper(), nil
	case fn == "toLower" && len(args) == 0:
		return target.ToLower(), nil
	case fn == "trim" && len(args) == 0:
		return target.Trim(), nil
	}
	return Expr{}, c.errorf("unknown method %s/%d on %s", fn, len(args), target.Type())
}

// in translates "x in list". Literal lists and variables become membership
// tests; sequences become Contains.
func (c *converter) in(needle, haystack *exprpb.Expr, env names) (Expr, error) {
	x, err := c.convert(needle, env)
	if err != nil {
		return Expr{}, err
	}
	if l, ok := haystack.GetExprKind().(*exprpb.Expr_ListExpr); ok {
		list, err := c.list(l.ListExpr)
		if err != nil {
			return Expr{}, err
		}
		return x.In(list), nil
	}
	h, err := c.convert(haystack, env)
	if err != nil {
		return Expr{}, err
	}
	if _, captured := h.node.(*expr.Captured); !captured {
		if t := h.Type(); t != nil && t.IsSequence() {
			return h.Seq().Contains(x), nil
		}
	}
	return x.In(h), nil
}

// selector reads a (param, body) pair at args[i:]. The returned function
// records conversion failures in c.err.
func (c *converter) selector(args []*exprpb.Expr, i int, env names) (func(Expr) Expr, error) {
	if i+1 >= len(args) {
		return nil, c.errorf("missing selector")
	}
	name, err := c.paramName(args[i])
	if err != nil {
		return nil, err
	}
	body := args[i+1]
	return func(x Expr) Expr {
		return c.body(body, env.with(name, x))
	}, nil
}

func (c *converter) selector2(args []*exprpb.Expr, i int, env names) (func(Expr, Expr) Expr, error) {
	if i+2 >= len(args) {
		return nil, c.errorf("missing selector")
	}
	n1, err := c.paramName(args[i])
	if err != nil {
		return nil, err
	}
	n2, err := c.paramName(args[i+1])
	if err != nil {
		return nil, err
	}
	body := args[i+2]
	return func(x, y Expr) Expr {
		return c.body(body, env.with(n1, x).with(n2, y))
	}, nil
}

func (c *converter) body(e *exprpb.Expr, env names) Expr {
	out, err := c.convert(e, env)
	if err != nil {
		if c.err == nil {
			c.err = err
		}
		return c.b.Lit(nil)
	}
	return out
}

func (c *converter) paramName(e *exprpb.Expr) (string, error) {
	id, ok := e.GetExprKind().(*exprpb.Expr_IdentExpr)
	if !ok {
		return "", c.errorf("expected a parameter name")
	}
	return id.IdentExpr.GetName(), nil
}

// optional reads an optional (param, body) selector.
func (c *converter) optional(args []*exprpb.Expr, env names) ([]func(Expr) Expr, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 2:
		fn, err := c.selector(args, 0, env)
		if err != nil {
			return nil, err
		}
		return []func(Expr) Expr{fn}, nil
	}
	return nil, c.errorf("expected no arguments or a (param, body) pair")
}

func (c *converter) operator(s Seq, fn string, args []*exprpb.Expr, env names) (Expr, error) {
	unary := map[string]func(func(Expr) Expr) Seq{
		"where":             s.Where,
		"select":            s.Select,
		"orderBy":           s.OrderBy,
		"orderByDescending": s.OrderByDescending,
		"thenBy":            s.ThenBy,
		"thenByDescending":  s.ThenByDescending,
	}
	if op, ok := unary[fn]; ok {
		sel, err := c.selector(args, 0, env)
		if err != nil {
			return Expr{}, err
		}
		return op(sel).Expr(), nil
	}
	terminals := map[string]func(...func(Expr) Expr) Expr{
		"count":           s.Count,
		"sum":             s.Sum,
		"min":             s.Min,
		"max":             s.Max,
		"average":         s.Average,
		"first":           s.First,
		"firstOrDefault":  s.FirstOrDefault,
		"single":          s.Single,
		"singleOrDefault": s.SingleOrDefault,
		"any":             s.Any,
	}
	if op, ok := terminals[fn]; ok {
		sel, err := c.optional(args, env)
		if err != nil {
			return Expr{}, err
		}
		return op(sel...), nil
	}
	sets := map[string]func(Seq) Seq{
		"concat":    s.Concat,
		"union":     s.Union,
		"intersect": s.Intersect,
		"except":    s.Except,
	}
	if op, ok := sets[fn]; ok {
		other, err := c.sequence(args, 0, env)
		if err != nil {
			return Expr{}, err
		}
		return op(other).Expr(), nil
	}

	switch fn {
	case "all":
		sel, err := c.selector(args, 0, env)
		if err != nil {
			return Expr{}, err
		}
		return s.All(sel), nil
	case "contains":
		if len(args) != 1 {
			return Expr{}, c.errorf("contains takes one value")
		}
		v, err := c.convert(args[0], env)
		if err != nil {
			return Expr{}, err
		}
		return s.Contains(v), nil
	case "distinct":
		return s.Distinct().Expr(), nil
	case "skip", "take":
		if len(args) != 1 {
			return Expr{}, c.errorf("%s takes a count", fn)
		}
		n, err := c.convert(args[0], env)
		if err != nil {
			return Expr{}, err
		}
		if fn == "skip" {
			return s.Skip(n).Expr(), nil
		}
		return s.Take(n).Expr(), nil
	case "selectMany":
		coll, err := c.selector(args, 0, env)
		if err != nil {
			return Expr{}, err
		}
		if len(args) == 2 {
			return s.SelectMany(coll).Expr(), nil
		}
		res, err := c.selector2(args, 2, env)
		if err != nil {
			return Expr{}, err
		}
		return s.SelectManyResult(coll, res).Expr(), nil
	case "groupBy":
		key, err := c.selector(args, 0, env)
		if err != nil {
			return Expr{}, err
		}
		switch len(args) {
		case 2:
			return s.GroupBy(key).Expr(), nil
		case 4:
			elem, err := c.selector(args, 2, env)
			if err != nil {
				return Expr{}, err
			}
			return s.GroupByElement(key, elem).Expr(), nil
		case 5:
			res, err := c.selector2(args, 2, env)
			if err != nil {
				return Expr{}, err
			}
			return s.GroupByResult(key, res).Expr(), nil
		}
		return Expr{}, c.errorf("groupBy takes 2, 4 or 5 arguments")
	case "join", "groupJoin":
		return c.join(s, fn, args, env)
	}
	return Expr{}, c.errorf("unknown query operator %s", fn)
}

func (c *converter) sequence(args []*exprpb.Expr, i int, env names) (Seq, error) {
	if i >= len(args) {
		return Seq{}, c.errorf("missing sequence argument")
	}
	v, err := c.convert(args[i], env)
	if err != nil {
		return Seq{}, err
	}
	if t := v.Type(); t == nil || !t.IsSequence() {
		return Seq{}, c.errorf("%s is not a sequence", expr.Format(v.node))
	}
	return v.Seq(), nil
}

// join reads join(inner, o, i, keys, result) and
// groupJoin(inner, o, i, keys, g, result). keys is a conjunction of
// equalities between an outer and an inner expression.
func (c *converter) join(s Seq, fn string, args []*exprpb.Expr, env names) (Expr, error) {
	want := 5
	if fn == "groupJoin" {
		want = 6
	}
	if len(args) != want {
		return Expr{}, c.errorf("%s takes %d arguments", fn, want)
	}
	inner, err := c.sequence(args, 0, env)
	if err != nil {
		return Expr{}, err
	}
	on, err := c.paramName(args[1])
	if err != nil {
		return Expr{}, err
	}
	in, err := c.paramName(args[2])
	if err != nil {
		return Expr{}, err
	}
	var outerSides, innerSides []*exprpb.Expr
	for _, eq := range conjuncts(args[3]) {
		call, ok := eq.GetExprKind().(*exprpb.Expr_CallExpr)
		if !ok || call.CallExpr.GetFunction() != operators.Equals {
			return Expr{}, c.errorf("join keys must be equalities")
		}
		l, r := call.CallExpr.GetArgs()[0], call.CallExpr.GetArgs()[1]
		if mentions(l, in) && !mentions(l, on) {
			l, r = r, l
		}
		outerSides = append(outerSides, l)
		innerSides = append(innerSides, r)
	}
	outerKey := c.keySelector(on, outerSides, env)
	innerKey := c.keySelector(in, innerSides, env)

	resultParam := in
	resultAt := 4
	if fn == "groupJoin" {
		if resultParam, err = c.paramName(args[4]); err != nil {
			return Expr{}, err
		}
		resultAt = 5
	}
	body := args[resultAt]
	result := func(o, i Expr) Expr {
		return c.body(body, env.with(on, o).with(resultParam, i))
	}
	if fn == "groupJoin" {
		return s.GroupJoin(inner, outerKey, innerKey, result).Expr(), nil
	}
	return s.Join(inner, outerKey, innerKey, result).Expr(), nil
}

func (c *converter) keySelector(param string, sides []*exprpb.Expr, env names) func(Expr) Expr {
	return func(x Expr) Expr {
		scoped := env.with(param, x)
		if len(sides) == 1 {
			return c.body(sides[0], scoped)
		}
		fields := make([]Field, len(sides))
		for i, side := range sides {
			fields[i] = F(fmt.Sprintf("k%d", i), c.body(side, scoped))
		}
		return c.b.Anonymous(fields...)
	}
}

func conjuncts(e *exprpb.Expr) []*exprpb.Expr {
	if call, ok := e.GetExprKind().(*exprpb.Expr_CallExpr); ok && call.CallExpr.GetFunction() == operators.LogicalAnd {
		var out []*exprpb.Expr
		for _, a := range call.CallExpr.GetArgs() {
			out = append(out, conjuncts(a)...)
		}
		return out
	}
	return []*exprpb.Expr{e}
}

// mentions reports whether e references identifier name.
func mentions(e *exprpb.Expr, name string) bool {
	switch k := e.GetExprKind().(type) {
	case *exprpb.Expr_IdentExpr:
		return k.IdentExpr.GetName() == name
	case *exprpb.Expr_SelectExpr:
		return mentions(k.SelectExpr.GetOperand(), name)
	case *exprpb.Expr_CallExpr:
		if t := k.CallExpr.GetTarget(); t != nil && mentions(t, name) {
			return true
		}
		for _, a := range k.CallExpr.GetArgs() {
			if mentions(a, name) {
				return true
			}
		}
	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.GetElements() {
			if mentions(el, name) {
				return true
			}
		}
	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.GetEntries() {
			if mentions(entry.GetValue(), name) {
				return true
			}
		}
	}
	return false
}
