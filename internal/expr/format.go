package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders n as compact, deterministic text for logs and plan dumps.
func Format(n Node) string {
	var b strings.Builder
	writeNode(&b, n)
	return b.String()
}

func writeNode(b *strings.Builder, n Node) {
	switch t := n.(type) {
	case nil:
		b.WriteString("<nil>")
	case *Constant:
		b.WriteString(formatLiteral(t.Value))
	case *Parameter:
		b.WriteString(t.Name)
	case *Captured:
		b.WriteString("@" + t.Name)
	case *Source:
		b.WriteString("All<" + t.Entity + ">")
	case *Member:
		writeNode(b, t.Object)
		b.WriteString("." + t.Name)
	case *Call:
		if t.Object != nil {
			writeNode(b, t.Object)
			b.WriteString(".")
		} else if t.Method.Set == Math {
			b.WriteString("Math.")
		}
		b.WriteString(t.Method.Name)
		b.WriteString("(")
		for i, a := range t.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			writeNode(b, a)
		}
		b.WriteString(")")
	case *Binary:
		b.WriteString("(")
		writeNode(b, t.Left)
		b.WriteString(" " + t.Op.String() + " ")
		writeNode(b, t.Right)
		b.WriteString(")")
	case *Unary:
		switch t.Op {
		case OpConvert:
			b.WriteString("(" + t.T.String() + ")")
		case OpRequire:
			b.WriteString("require(")
			writeNode(b, t.Operand)
			b.WriteString(")")
			return
		default:
			b.WriteString(t.Op.String())
		}
		writeNode(b, t.Operand)
	case *Conditional:
		b.WriteString("(")
		writeNode(b, t.Test)
		b.WriteString(" ? ")
		writeNode(b, t.IfTrue)
		b.WriteString(" : ")
		writeNode(b, t.IfFalse)
		b.WriteString(")")
	case *New:
		b.WriteString("new {")
		for i, a := range t.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(t.Names[i] + " = ")
			writeNode(b, a)
		}
		b.WriteString("}")
	case *Lambda:
		names := make([]string, len(t.Params))
		for i, p := range t.Params {
			names[i] = p.Name
		}
		if len(names) == 1 {
			b.WriteString(names[0])
		} else {
			b.WriteString("(" + strings.Join(names, ", ") + ")")
		}
		b.WriteString(" => ")
		writeNode(b, t.Body)
	case *QueryParam:
		fmt.Fprintf(b, "$%d", t.Slot)
		if t.Name != "" {
			b.WriteString(":" + t.Name)
		}
	case *Column:
		fmt.Fprintf(b, "#%d", t.Index)
	case *OuterColumn:
		fmt.Fprintf(b, "%s#%d", t.Corr, t.Index)
	case *EntityItem:
		b.WriteString(t.Info.Name + formatIndexes(t.Columns))
	case *KeyItem:
		b.WriteString("Key<" + t.Info.Name + ">" + formatIndexes(t.Columns))
	case *StructureItem:
		b.WriteString(t.Info.Name + formatIndexes(t.Columns))
	case *SubQuery:
		fmt.Fprintf(b, "subquery[%s](", t.Corr)
		writeNode(b, t.Projector)
		b.WriteString(")")
	case *Outer:
		b.WriteString(t.Corr.String() + "(")
		writeNode(b, t.Item)
		b.WriteString(")")
	case *GroupingItem:
		b.WriteString("group(")
		writeNode(b, t.Key)
		b.WriteString(", ")
		writeNode(b, t.Elements)
		b.WriteString(")")
	default:
		fmt.Fprintf(b, "<%T>", n)
	}
}

func formatIndexes(cols []int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = strconv.Itoa(c)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func formatLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(t)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprintf("%v", v)
}
