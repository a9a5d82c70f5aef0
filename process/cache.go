package process

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultPageSize is the granularity of PageCache entries.
const DefaultPageSize = 0x1000

// PageCache is a read-through Memory that keeps recently read pages of the
// underlying address space. Writes go straight through and drop the pages
// they touch. The cache never notices changes made by the foreign process
// itself; call Purge before taking a fresh snapshot.
type PageCache struct {
	mem      Memory
	pageSize ProcessMemorySize
	pages    *lru.Cache
}

var _ Memory = (*PageCache)(nil)

// NewPageCache wraps mem with an LRU of at most maxPages pages.
func NewPageCache(mem Memory, maxPages int) (*PageCache, error) {
	pages, err := lru.New(maxPages)
	if err != nil {
		return nil, fmt.Errorf("NewPageCache: %w", err)
	}
	return &PageCache{mem: mem, pageSize: DefaultPageSize, pages: pages}, nil
}

// ReadMemory serves the range from cached pages, filling missing pages from
// the underlying Memory. If a whole page cannot be read the range is read
// directly and nothing is cached.
func (c *PageCache) ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	out := make([]byte, 0, size)
	end := addr.Add(size)
	for cur := addr; cur < end; {
		base := c.pageBase(cur)
		page, err := c.page(base)
		if err != nil {
			return c.mem.ReadMemory(addr, size)
		}
		from := cur - base
		to := ProcessMemoryAddress(len(page))
		if base+to > end {
			to = end - base
		}
		out = append(out, page[from:to]...)
		cur = base + to
	}
	return out, nil
}

// WriteMemory writes through and invalidates every page overlapping the range.
func (c *PageCache) WriteMemory(addr ProcessMemoryAddress, data []byte) error {
	err := c.mem.WriteMemory(addr, data)
	end := addr.Add(ProcessMemorySize(len(data)))
	for base := c.pageBase(addr); base < end; base = base.Add(c.pageSize) {
		c.pages.Remove(base)
	}
	return err
}

// Purge drops every cached page.
func (c *PageCache) Purge() {
	c.pages.Purge()
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	return c.pages.Len()
}

func (c *PageCache) pageBase(addr ProcessMemoryAddress) ProcessMemoryAddress {
	return addr - addr%ProcessMemoryAddress(c.pageSize)
}

func (c *PageCache) page(base ProcessMemoryAddress) ([]byte, error) {
	if v, ok := c.pages.Get(base); ok {
		return v.([]byte), nil
	}
	data, err := c.mem.ReadMemory(base, c.pageSize)
	if err != nil {
		return nil, err
	}
	c.pages.Add(base, data)
	return data, nil
}
