package docstore

import (
	"fmt"
	"regexp"
	"strings"
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

type Order struct {
	Field string
	Dir   Direction
}

func OrderBy(field string, dir Direction) Order {
	return Order{Field: field, Dir: dir}
}

func (o Order) String() string {
	return o.Field + " " + o.Dir.String()
}

// FormatOrders renders orders for logs, e.g. "likes desc, createdAt asc".
func FormatOrders(orders []Order) string {
	parts := make([]string, len(orders))
	for i, o := range orders {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

func ValidateField(name string) error {
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidField, name)
	}
	return nil
}

func ValidateOrders(orders []Order) error {
	for _, o := range orders {
		if err := ValidateField(o.Field); err != nil {
			return err
		}
		if o.Dir != Asc && o.Dir != Desc {
			return fmt.Errorf("%w: direction %d", ErrInvalidField, o.Dir)
		}
	}
	return nil
}

// HasFields reports whether the document carries every ordered field.
// Ordered reads exclude documents that do not.
func HasFields(fields map[string]any, orders []Order) bool {
	for _, o := range orders {
		if _, ok := fields[o.Field]; !ok {
			return false
		}
	}
	return true
}

// CompareDocs orders two documents by orders, then by id ascending.
func CompareDocs(a, b Document, orders []Order) int {
	for _, o := range orders {
		c := CompareValues(a.Fields[o.Field], b.Fields[o.Field])
		if o.Dir == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return strings.Compare(a.Ref.ID, b.Ref.ID)
}

// CompareValues is a total order across value types: null < string <
// number < bool < array < object. A Timestamp sorts as a number of
// seconds with its nanos as tie-break; a plain number equal to those
// seconds sorts first.
func CompareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpInt(int64(ra), int64(rb))
	}
	switch ra {
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankNumber:
		pa, na := numericKey(a)
		pb, nb := numericKey(b)
		if c := cmpFloat(pa, pb); c != 0 {
			return c
		}
		return cmpInt(na, nb)
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case rankArray:
		la, lb := a.([]any), b.([]any)
		for i := 0; i < len(la) && i < len(lb); i++ {
			if c := CompareValues(la[i], lb[i]); c != 0 {
				return c
			}
		}
		return cmpInt(int64(len(la)), int64(len(lb)))
	}
	return 0
}

const (
	rankNull = iota
	rankString
	rankNumber
	rankBool
	rankArray
	rankObject
)

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case string:
		return rankString
	case int64, int, float64, Timestamp:
		return rankNumber
	case bool:
		return rankBool
	case []any:
		return rankArray
	}
	return rankObject
}

func numericKey(v any) (float64, int64) {
	switch n := v.(type) {
	case Timestamp:
		return float64(n.Seconds), int64(n.Nanos)
	case int64:
		return float64(n), -1
	case int:
		return float64(n), -1
	case float64:
		return n, -1
	}
	return 0, -1
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
