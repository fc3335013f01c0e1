// Package protocol implements the upload-pack and receive-pack session
// state machines that run on top of a transport.Transport: capability
// negotiation, the v1 and v2 wire shapes, side-band demultiplexing, and
// thin-pack fatification at receive time.
package protocol

import "strings"

// Capabilities is an ordered set of protocol capabilities, in the form
// they appear on the wire: either a bare name ("thin-pack") or a
// "key=value" pair ("agent=gitkit/1.0"). Order is preserved because the
// first ref line in a v1 advertisement carries the full capability
// list appended to it, and round-tripping that exact text is part of
// talking to picky servers.
type Capabilities struct {
	order  []string
	values map[string]string
	bare   map[string]bool
}

// NewCapabilities builds an empty capability set.
func NewCapabilities() *Capabilities {
	return &Capabilities{values: map[string]string{}, bare: map[string]bool{}}
}

// ParseCapabilities splits a space-separated capability string, as it
// appears after the NUL byte on a v1 advertisement's first ref line,
// or after a v1 "want"/"have" line's ref.
func ParseCapabilities(s string) *Capabilities {
	c := NewCapabilities()
	for _, tok := range strings.Fields(s) {
		c.add(tok)
	}
	return c
}

func (c *Capabilities) add(tok string) {
	key, value, hasValue := strings.Cut(tok, "=")
	if _, seen := c.bare[key]; seen {
		return
	}
	if _, seen := c.values[key]; seen {
		return
	}
	c.order = append(c.order, key)
	if hasValue {
		c.values[key] = value
	} else {
		c.bare[key] = true
	}
}

// Has reports whether the named capability is present, with or
// without a value.
func (c *Capabilities) Has(name string) bool {
	if c.bare[name] {
		return true
	}
	_, ok := c.values[name]
	return ok
}

// Value returns the value carried by a "key=value" capability, and
// whether it was present at all.
func (c *Capabilities) Value(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Set records a capability, overwriting any existing value for the
// same name.
func (c *Capabilities) Set(name, value string) {
	if !c.bare[name] {
		if _, ok := c.values[name]; !ok {
			c.order = append(c.order, name)
		}
	}
	delete(c.bare, name)
	c.values[name] = value
}

// SetBare records a value-less capability.
func (c *Capabilities) SetBare(name string) {
	if _, ok := c.values[name]; !ok && !c.bare[name] {
		c.order = append(c.order, name)
	}
	delete(c.values, name)
	c.bare[name] = true
}

// String renders the set back to its wire form, in insertion order.
func (c *Capabilities) String() string {
	parts := make([]string, 0, len(c.order))
	for _, name := range c.order {
		if v, ok := c.values[name]; ok {
			parts = append(parts, name+"="+v)
		} else {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, " ")
}

// Intersect returns the set of capabilities both sides support: every
// name present in both ours and theirs, keeping ours' value for
// capabilities that carry one (the client's own stated value, e.g.
// object-format, wins over merely echoing the server's).
func Intersect(ours, theirs *Capabilities) *Capabilities {
	out := NewCapabilities()
	for _, name := range ours.order {
		if !theirs.Has(name) {
			continue
		}
		if v, ok := ours.values[name]; ok {
			out.Set(name, v)
		} else {
			out.SetBare(name)
		}
	}
	return out
}
