// Package chain provides the citation chain value type: the ordered list of
// internal article ids recording one discovery route from a seed article to
// the article that owns the chain.
package chain

import (
	"fmt"
	"strconv"
	"strings"
)

// Chain is an ordered sequence of article ids. The zero value is the empty
// chain carried by seed articles.
type Chain []int64

// Append returns a new Chain with id added at the end. The receiver is not
// modified; chains are shared between frontier items and must stay immutable.
func (c Chain) Append(id int64) Chain {
	out := make(Chain, 0, len(c)+1)
	out = append(out, c...)
	return append(out, id)
}

// Contains reports whether id already appears in the chain. A true result
// for a candidate extension means the extension would close a cycle.
func (c Chain) Contains(id int64) bool {
	for _, v := range c {
		if v == id {
			return true
		}
	}
	return false
}

// Last returns the terminal id, the article that owns the chain.
func (c Chain) Last() int64 {
	if len(c) == 0 {
		return 0
	}
	return c[len(c)-1]
}

// Equal reports element-wise equality.
func (c Chain) Equal(other Chain) bool {
	if len(c) != len(other) {
		return false
	}
	for i, v := range c {
		if v != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether the chain starts with prefix.
func (c Chain) HasPrefix(prefix Chain) bool {
	if len(prefix) > len(c) {
		return false
	}
	return c[:len(prefix)].Equal(prefix)
}

// Ltree renders the storage encoding, a dot-delimited id path such as
// "1.7.42", matching the Postgres ltree column format.
func (c Chain) Ltree() string {
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ".")
}

// String implements fmt.Stringer using the ltree encoding.
func (c Chain) String() string {
	return c.Ltree()
}

// ParseLtree decodes a dot-delimited id path back into a Chain. The empty
// string decodes to the empty chain.
func ParseLtree(s string) (Chain, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ".")
	out := make(Chain, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse chain element %q: %w", p, err)
		}
		out = append(out, id)
	}
	return out, nil
}
