package session

import (
	"fmt"

	"github.com/svnbridge/svnbridged/internal/wire"
)

// argCursor walks a flattened item sequence (as returned by wire.Reader's
// ReadList, which keeps nested list delimiters inline rather than
// discarding them) letting command handlers pull out scalars and nested
// sub-lists in the order their grammar expects.
type argCursor struct {
	items []wire.Item
	pos   int
}

func newArgCursor(items []wire.Item) *argCursor {
	return &argCursor{items: items}
}

func (c *argCursor) more() bool { return c.pos < len(c.items) }

func (c *argCursor) next() (wire.Item, error) {
	if !c.more() {
		return wire.Item{}, fmt.Errorf("session: argument list exhausted")
	}
	item := c.items[c.pos]
	c.pos++
	return item, nil
}

func (c *argCursor) number() (int64, error) {
	item, err := c.next()
	if err != nil {
		return 0, err
	}
	if item.Kind != wire.KindNumber {
		return 0, fmt.Errorf("session: expected number, got kind %d", item.Kind)
	}
	return item.Number, nil
}

func (c *argCursor) word() (string, error) {
	item, err := c.next()
	if err != nil {
		return "", err
	}
	if item.Kind != wire.KindWord {
		return "", fmt.Errorf("session: expected word, got kind %d", item.Kind)
	}
	return item.Word, nil
}

func (c *argCursor) str() ([]byte, error) {
	item, err := c.next()
	if err != nil {
		return nil, err
	}
	if item.Kind != wire.KindString {
		return nil, fmt.Errorf("session: expected string, got kind %d", item.Kind)
	}
	return item.String, nil
}

// list consumes one nested sub-list (ListBegin ... matching ListEnd) and
// returns its contents as their own cursor, positioned to be walked
// independently.
func (c *argCursor) list() (*argCursor, error) {
	item, err := c.next()
	if err != nil {
		return nil, err
	}
	if item.Kind != wire.KindListBegin {
		return nil, fmt.Errorf("session: expected list, got kind %d", item.Kind)
	}
	depth := 0
	var sub []wire.Item
	for {
		next, err := c.next()
		if err != nil {
			return nil, err
		}
		switch next.Kind {
		case wire.KindListBegin:
			depth++
		case wire.KindListEnd:
			if depth == 0 {
				return newArgCursor(sub), nil
			}
			depth--
		}
		sub = append(sub, next)
	}
}

// optionalNumber reads a one-element "optional number" list, e.g. an
// optional revision argument encoded as `( )` or `( 17 )`, returning ok=false
// for the empty case.
func (c *argCursor) optionalNumber() (n int64, ok bool, err error) {
	sub, err := c.list()
	if err != nil {
		return 0, false, err
	}
	if !sub.more() {
		return 0, false, nil
	}
	n, err = sub.number()
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// strings reads every string item from the remainder of c as a path/word
// list, e.g. the target-path list a report command's set-path entries
// build up.
func (c *argCursor) strings() ([]string, error) {
	var out []string
	for c.more() {
		item, err := c.next()
		if err != nil {
			return nil, err
		}
		if item.Kind != wire.KindString {
			return nil, fmt.Errorf("session: expected string in list, got kind %d", item.Kind)
		}
		out = append(out, string(item.String))
	}
	return out, nil
}
