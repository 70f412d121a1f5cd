package rse

// Tuple is one row of a provider's output, laid out by its Header.
type Tuple = []any

// Rows is a forward-only cursor over tuples.
type Rows interface {
	Next() bool
	Tuple() Tuple
	Err() error
	Close() error
}

type sliceRows struct {
	rows []Tuple
	pos  int
}

// RowsOf returns a cursor over rows.
func RowsOf(rows []Tuple) Rows {
	return &sliceRows{rows: rows, pos: -1}
}

func (r *sliceRows) Next() bool {
	if r.pos+1 >= len(r.rows) {
		r.pos = len(r.rows)
		return false
	}
	r.pos++
	return true
}

func (r *sliceRows) Tuple() Tuple {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil
	}
	return r.rows[r.pos]
}

func (r *sliceRows) Err() error   { return nil }
func (r *sliceRows) Close() error { return nil }

// Collect drains rows and closes it.
func Collect(rows Rows) ([]Tuple, error) {
	defer rows.Close()
	var out []Tuple
	for rows.Next() {
		out = append(out, rows.Tuple())
	}
	return out, rows.Err()
}
