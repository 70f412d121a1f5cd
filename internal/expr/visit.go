package expr

import "fmt"

// Children returns the direct child nodes evaluated in the same row scope.
// SubQuery projectors run over a different row and are not children.
func Children(n Node) []Node {
	switch t := n.(type) {
	case *Member:
		return []Node{t.Object}
	case *Call:
		if t.Object != nil {
			return append([]Node{t.Object}, t.Args...)
		}
		return t.Args
	case *Binary:
		return []Node{t.Left, t.Right}
	case *Unary:
		return []Node{t.Operand}
	case *Conditional:
		return []Node{t.Test, t.IfTrue, t.IfFalse}
	case *New:
		return t.Args
	case *Lambda:
		return []Node{t.Body}
	case *GroupingItem:
		return []Node{t.Key}
	}
	return nil
}

// WithChildren returns a copy of n with its children replaced. children must
// have the layout returned by Children.
func WithChildren(n Node, children []Node) Node {
	switch t := n.(type) {
	case *Member:
		c := *t
		c.Object = children[0]
		return &c
	case *Call:
		c := *t
		if t.Object != nil {
			c.Object = children[0]
			c.Args = append([]Node(nil), children[1:]...)
		} else {
			c.Args = append([]Node(nil), children...)
		}
		return &c
	case *Binary:
		c := *t
		c.Left, c.Right = children[0], children[1]
		return &c
	case *Unary:
		c := *t
		c.Operand = children[0]
		return &c
	case *Conditional:
		c := *t
		c.Test, c.IfTrue, c.IfFalse = children[0], children[1], children[2]
		return &c
	case *New:
		c := *t
		c.Args = append([]Node(nil), children...)
		return &c
	case *Lambda:
		c := *t
		c.Body = children[0]
		return &c
	case *GroupingItem:
		c := *t
		c.Key = children[0]
		return &c
	}
	return n
}

// Walk visits n in pre-order. Returning false from fn skips the children of
// the visited node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}

// Transform rewrites n bottom-up. fn receives each node after its children
// have been transformed.
func Transform(n Node, fn func(Node) (Node, error)) (Node, error) {
	if n == nil {
		return nil, nil
	}
	children := Children(n)
	if len(children) > 0 {
		next := make([]Node, len(children))
		changed := false
		for i, c := range children {
			r, err := Transform(c, fn)
			if err != nil {
				return nil, err
			}
			next[i] = r
			changed = changed || r != c
		}
		if changed {
			n = WithChildren(n, next)
		}
	}
	return fn(n)
}

// Any reports whether pred holds for some node of the tree.
func Any(n Node, pred func(Node) bool) bool {
	found := false
	Walk(n, func(c Node) bool {
		if found {
			return false
		}
		if pred(c) {
			found = true
			return false
		}
		return true
	})
	return found
}

// FreeParameters returns the lambda parameters referenced in n that are not
// declared by a lambda inside n.
func FreeParameters(n Node) []*Parameter {
	var out []*Parameter
	seen := make(map[*Parameter]bool)
	var visit func(n Node, bound map[*Parameter]bool)
	visit = func(n Node, bound map[*Parameter]bool) {
		switch t := n.(type) {
		case *Parameter:
			if !bound[t] && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
			return
		case *Lambda:
			inner := make(map[*Parameter]bool, len(bound)+len(t.Params))
			for p := range bound {
				inner[p] = true
			}
			for _, p := range t.Params {
				inner[p] = true
			}
			visit(t.Body, inner)
			return
		}
		for _, c := range Children(n) {
			visit(c, bound)
		}
	}
	visit(n, map[*Parameter]bool{})
	return out
}

// RemapColumns rewrites Column indexes through m. Columns absent from m are
// reported as an error.
func RemapColumns(n Node, m map[int]int) (Node, error) {
	return Transform(n, func(c Node) (Node, error) {
		switch t := c.(type) {
		case *Column:
			idx, ok := m[t.Index]
			if !ok {
				return nil, fmt.Errorf("column %d was removed", t.Index)
			}
			if idx == t.Index {
				return t, nil
			}
			cp := *t
			cp.Index = idx
			return &cp, nil
		case *EntityItem:
			cols, err := remapIndexes(t.Columns, m)
			if err != nil {
				return nil, err
			}
			cp := *t
			cp.Columns = cols
			return &cp, nil
		case *KeyItem:
			cols, err := remapIndexes(t.Columns, m)
			if err != nil {
				return nil, err
			}
			cp := *t
			cp.Columns = cols
			return &cp, nil
		case *StructureItem:
			cols, err := remapIndexes(t.Columns, m)
			if err != nil {
				return nil, err
			}
			cp := *t
			cp.Columns = cols
			return &cp, nil
		}
		return c, nil
	})
}

// ShiftColumns adds delta to every Column index.
func ShiftColumns(n Node, delta int) Node {
	if delta == 0 {
		return n
	}
	out, _ := Transform(n, func(c Node) (Node, error) {
		switch t := c.(type) {
		case *Column:
			cp := *t
			cp.Index += delta
			return &cp, nil
		case *EntityItem:
			cp := *t
			cp.Columns = shiftIndexes(t.Columns, delta)
			return &cp, nil
		case *KeyItem:
			cp := *t
			cp.Columns = shiftIndexes(t.Columns, delta)
			return &cp, nil
		case *StructureItem:
			cp := *t
			cp.Columns = shiftIndexes(t.Columns, delta)
			return &cp, nil
		}
		return c, nil
	})
	return out
}

func remapIndexes(cols []int, m map[int]int) ([]int, error) {
	out := make([]int, len(cols))
	for i, c := range cols {
		idx, ok := m[c]
		if !ok {
			return nil, fmt.Errorf("column %d was removed", c)
		}
		out[i] = idx
	}
	return out, nil
}

func shiftIndexes(cols []int, delta int) []int {
	out := make([]int, len(cols))
	for i, c := range cols {
		out[i] = c + delta
	}
	return out
}
