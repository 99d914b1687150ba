package seq

import (
	"fmt"
	"sort"
	"strconv"
)

// Attributes are typed key/value annotations carried by a sequence: read
// from the reference store (accession, taxonomy, ...) or produced by the
// pipeline stages (turn, quality, overhang lengths, classification).
// Missing attributes read as zero values.

// SetAttr sets an attribute. Supported value types are string, int, float32
// and bool.
func (c *CSeq) SetAttr(key string, val interface{}) {
	switch val.(type) {
	case string, int, float32, bool:
	default:
		panic(fmt.Sprintf("unsupported attribute type %T for %q", val, key))
	}
	if c.attrs == nil {
		c.attrs = map[string]interface{}{}
	}
	c.attrs[key] = val
}

// HasAttr reports whether the attribute is set.
func (c *CSeq) HasAttr(key string) bool {
	_, ok := c.attrs[key]
	return ok
}

// Attr returns the raw attribute value, or nil.
func (c *CSeq) Attr(key string) interface{} { return c.attrs[key] }

// AttrKeys returns the attribute names in sorted order.
func (c *CSeq) AttrKeys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AttrString returns the attribute rendered as a string, or "" when unset.
func (c *CSeq) AttrString(key string) string {
	switch v := c.attrs[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// AttrInt returns the attribute as an int, converting from string or float
// forms, or 0 when unset or unconvertible.
func (c *CSeq) AttrInt(key string) int {
	switch v := c.attrs[key].(type) {
	case int:
		return v
	case float32:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// AttrFloat returns the attribute as a float32, or 0 when unset or
// unconvertible.
func (c *CSeq) AttrFloat(key string) float32 {
	switch v := c.attrs[key].(type) {
	case float32:
		return v
	case int:
		return float32(v)
	case string:
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return 0
		}
		return float32(f)
	}
	return 0
}

// AttrBool returns the attribute as a bool, or false when unset.
func (c *CSeq) AttrBool(key string) bool {
	v, _ := c.attrs[key].(bool)
	return v
}

// CopyAttrsFrom copies every attribute of o into c, overwriting existing
// keys.
func (c *CSeq) CopyAttrsFrom(o *CSeq) {
	for k, v := range o.attrs {
		c.SetAttr(k, v)
	}
}

// Clone returns a deep copy of the sequence, including attributes.
func (c *CSeq) Clone() *CSeq {
	n := &CSeq{
		name:  c.name,
		bases: append([]ABase(nil), c.bases...),
		width: c.width,
		Score: c.Score,
	}
	if c.attrs != nil {
		n.attrs = make(map[string]interface{}, len(c.attrs))
		for k, v := range c.attrs {
			n.attrs[k] = v
		}
	}
	return n
}
