package equipment

import "sync"

// ItemData is the static definition of an item, shared by all instances.
type ItemData struct {
	ID            string   `json:"id" yaml:"id"`
	DisplayName   string   `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Type          Tag      `json:"type" yaml:"type"`
	Tags          TagSet   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Weight        float64  `json:"weight" yaml:"weight"`
	RequiredLevel int      `json:"required_level,omitempty" yaml:"required_level,omitempty"`
	RequiredClass Tag      `json:"required_class,omitempty" yaml:"required_class,omitempty"`
	PreferredSlot Tag      `json:"preferred_slot,omitempty" yaml:"preferred_slot,omitempty"`
	Companions    []string `json:"companions,omitempty" yaml:"companions,omitempty"`
	Unique        bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
}

// AllTags returns the item type followed by its extra tags.
func (d ItemData) AllTags() TagSet {
	out := make(TagSet, 0, len(d.Tags)+1)
	if d.Type.IsValid() {
		out = append(out, d.Type)
	}
	for _, t := range d.Tags {
		if t != d.Type {
			out = append(out, t)
		}
	}
	return out
}

// Name returns the display name, falling back to the id.
func (d ItemData) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.ID
}

// ItemCatalog resolves item ids to static data. Read-only.
type ItemCatalog interface {
	Lookup(itemID string) (ItemData, bool)
}

// MapCatalog is an in-memory ItemCatalog.
//
// Thread-safety: safe for concurrent use.
type MapCatalog struct {
	mu    sync.RWMutex
	items map[string]ItemData
}

// NewMapCatalog creates a catalog from item definitions.
func NewMapCatalog(items ...ItemData) *MapCatalog {
	c := &MapCatalog{items: make(map[string]ItemData, len(items))}
	for _, it := range items {
		c.Add(it)
	}
	return c
}

// Add registers or replaces an item definition.
func (c *MapCatalog) Add(d ItemData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d.ID = NormalizeID(d.ID)
	c.items[d.ID] = d
}

// Lookup implements ItemCatalog.
func (c *MapCatalog) Lookup(itemID string) (ItemData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.items[itemID]
	return d, ok
}

// Len returns the number of definitions.
func (c *MapCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
