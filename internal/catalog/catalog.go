// Package catalog is the in-memory table/index registry: table name to
// table_oid, Schema, heap-file head page id, and secondary index oids.
// No persistence; the catalog is rebuilt by the caller on each process
// start. A bounded go-freelru cache sits in front of the schema lookup
// so hot-path schema resolution stays off the registry's latch.
package catalog

import (
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"diskdb/internal/bptree"
	"diskdb/internal/page"
	"diskdb/internal/types"
)

// OID identifies a table or index within the catalog.
type OID uint32

// TableInfo is everything the executors and optimizer need to resolve
// "the target table" and "every secondary index" for a table name.
type TableInfo struct {
	OID           OID
	Name          string
	Schema        types.Schema
	HeapHead      page.ID
	PrimaryOID    OID // index oid backing the primary key, or 0 if none
	SecondaryOIDs []OID
}

// IndexInfo describes one secondary (or primary) index.
type IndexInfo struct {
	OID      OID
	TableOID OID
	Column   string
	HeaderID page.ID
	Tree     *bptree.Tree
}

var ErrNotFound = errors.New("catalog: not found")
var ErrAlreadyExists = errors.New("catalog: already exists")

// Catalog is the registry of tables and indexes for one engine instance.
type Catalog struct {
	mu      sync.RWMutex
	nextOID OID
	tables  map[string]*TableInfo
	byOID   map[OID]*TableInfo
	indexes map[OID]*IndexInfo
	cache   *freelru.LRU[string, types.Schema]
}

func hashTableName(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}

// New creates an empty catalog with a schema cache of the given
// capacity.
func New(cacheSize uint32) (*Catalog, error) {
	cache, err := freelru.New[string, types.Schema](cacheSize, hashTableName)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		tables:  make(map[string]*TableInfo),
		byOID:   make(map[OID]*TableInfo),
		indexes: make(map[OID]*IndexInfo),
		cache:   cache,
	}, nil
}

func (c *Catalog) allocOID() OID {
	c.nextOID++
	return c.nextOID
}

// CreateTable registers a new table with the given schema and heap head
// page, returning its assigned oid.
func (c *Catalog) CreateTable(name string, schema types.Schema, heapHead page.ID) (OID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tables[name]; ok {
		return 0, ErrAlreadyExists
	}
	oid := c.allocOID()
	info := &TableInfo{OID: oid, Name: name, Schema: schema, HeapHead: heapHead}
	c.tables[name] = info
	c.byOID[oid] = info
	c.cache.Add(name, schema)
	return oid, nil
}

// CreateIndex registers a secondary (or primary) index over column for
// table tableOID.
func (c *Catalog) CreateIndex(tableOID OID, column string, headerID page.ID, tree *bptree.Tree, isPrimary bool) (OID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	table, ok := c.byOID[tableOID]
	if !ok {
		return 0, ErrNotFound
	}
	oid := c.allocOID()
	c.indexes[oid] = &IndexInfo{OID: oid, TableOID: tableOID, Column: column, HeaderID: headerID, Tree: tree}
	if isPrimary {
		table.PrimaryOID = oid
	} else {
		table.SecondaryOIDs = append(table.SecondaryOIDs, oid)
	}
	return oid, nil
}

// Table looks up a table by name.
func (c *Catalog) Table(name string) (*TableInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.tables[name]
	if !ok {
		return nil, ErrNotFound
	}
	return info, nil
}

// TableByOID looks up a table by oid.
func (c *Catalog) TableByOID(oid OID) (*TableInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.byOID[oid]
	if !ok {
		return nil, ErrNotFound
	}
	return info, nil
}

// Schema returns a table's schema via the cache, falling back to the
// table registry (and repopulating the cache) on a miss.
func (c *Catalog) Schema(name string) (types.Schema, error) {
	if s, ok := c.cache.Get(name); ok {
		return s, nil
	}
	info, err := c.Table(name)
	if err != nil {
		return types.Schema{}, err
	}
	c.cache.Add(name, info.Schema)
	return info.Schema, nil
}

// Index looks up an index by oid.
func (c *Catalog) Index(oid OID) (*IndexInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexes[oid]
	if !ok {
		return nil, ErrNotFound
	}
	return idx, nil
}
