package parsing

import (
	"fmt"
	"sync"
)

// Schema is an opaque, loosely-typed schema document as returned by a
// SchemaManager. The parser only checks it is a well-formed map; field-
// level rules remain the fixed §4.2 rule table regardless of schema
// content, matching the original source's _validate_schema, which only
// checks "is this a dict" and leaves deeper validation to the fixed
// rule set.
type Schema map[string]any

// SchemaManager loads named schema documents from an external store
// (database, config service, ...). Out of scope for this core per §1;
// only the interface is specified here.
type SchemaManager interface {
	GetSchema(name string) (Schema, error)
}

// schemaCache caches schemas loaded from a SchemaManager, guarded by a
// sync.RWMutex so readers (the hot parse path) never block each other,
// with invalidation (ReloadSchemas) taking the exclusive lock — the
// read-write lock explicitly called for in §5 ("Parser schema cache:
// read-write lock; readers dominate, invalidation is exclusive").
type schemaCache struct {
	mu      sync.RWMutex
	schemas map[string]Schema
	manager SchemaManager
}

func newSchemaCache(manager SchemaManager) *schemaCache {
	return &schemaCache{schemas: make(map[string]Schema), manager: manager}
}

func (c *schemaCache) load(name string) (Schema, error) {
	if name == "" {
		return nil, nil
	}

	c.mu.RLock()
	if s, ok := c.schemas[name]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	if c.manager == nil {
		return nil, nil
	}

	schema, err := c.manager.GetSchema(name)
	if err != nil {
		return nil, fmt.Errorf("parsing: load schema %q: %w", name, err)
	}
	if schema == nil {
		return nil, nil
	}
	if !validSchema(schema) {
		return nil, fmt.Errorf("parsing: invalid schema structure: %q", name)
	}

	c.mu.Lock()
	c.schemas[name] = schema
	c.mu.Unlock()

	return schema, nil
}

func validSchema(s Schema) bool {
	return s != nil
}

// reload clears every cached schema, returning the count cleared, so the
// next load re-fetches from the manager — the hot-reload support named
// in §4.2.
func (c *schemaCache) reload() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.schemas)
	c.schemas = make(map[string]Schema)
	return n
}
