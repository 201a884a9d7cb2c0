package tools

import (
	"fmt"
	"sync"

	"github.com/nugget/huddle/internal/intent"
)

// Catalog is the immutable, ordered list of every tool the assistant
// knows. It is built once at start-up and shared by all requests
// without locking.
type Catalog struct {
	defs   []Definition
	byName map[string]int
}

// NewCatalog validates defs and returns a catalog preserving their
// order. Names must be unique.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{
		defs:   make([]Definition, 0, len(defs)),
		byName: make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", d.Name)
		}
		c.byName[d.Name] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// MustCatalog is NewCatalog that panics on error. Use for static tables.
func MustCatalog(defs ...Definition) *Catalog {
	c, err := NewCatalog(defs...)
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// Definitions returns a copy of the catalog in order.
func (c *Catalog) Definitions() []Definition {
	return append([]Definition(nil), c.defs...)
}

// Lookup returns the definition named name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Select returns the tools usable for a request: every internal tool,
// then every external tool whose app was requested, each group in
// catalog order. External tools for apps the user did not ask about are
// never returned.
func Select(c *Catalog, requested []intent.App) []Definition {
	want := make(map[intent.App]bool, len(requested))
	for _, a := range requested {
		want[a] = true
	}

	var internal, external []Definition
	for _, d := range c.defs {
		switch {
		case !d.External():
			internal = append(internal, d)
		case want[d.ExternalApp]:
			external = append(external, d)
		}
	}
	return append(internal, external...)
}

// Internal returns only the internal tools, for the internal-only
// fallback.
func Internal(c *Catalog) []Definition {
	return Select(c, nil)
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	return MustCatalog(append(workspaceTools(), integrationTools()...)...)
})

// DefaultCatalog returns the process-wide catalog.
func DefaultCatalog() *Catalog {
	return defaultCatalog()
}
