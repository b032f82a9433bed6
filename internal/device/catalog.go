package device

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CatalogEntry is one known dive-computer BLE service.
type CatalogEntry struct {
	UUID  string // normalized, see NormalizeUUID
	Label string
}

// Catalog is an ordered set of known services. Order matters: when a
// peripheral exposes several catalog services the earliest entry wins.
type Catalog struct {
	entries *orderedmap.OrderedMap[string, string]
}

// NewCatalog builds a catalog from entries in priority order. UUIDs are
// validated and normalized; later duplicates are ignored.
func NewCatalog(entries ...CatalogEntry) (*Catalog, error) {
	c := &Catalog{entries: orderedmap.New[string, string]()}
	for _, e := range entries {
		keys, err := ValidateUUID(e.UUID)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", e.Label, err)
		}
		if _, exists := c.entries.Get(keys[0]); exists {
			continue
		}
		c.entries.Set(keys[0], e.Label)
	}
	return c, nil
}

func mustCatalog(entries ...CatalogEntry) *Catalog {
	c, err := NewCatalog(entries...)
	if err != nil {
		panic(err)
	}
	return c
}

var knownServices = mustCatalog(
	CatalogEntry{"0000fefb-0000-1000-8000-00805f9b34fb", "Heinrichs-Weikamp (Telit/Stollmann)"},
	CatalogEntry{"2456e1b9-26e2-8f83-e744-f34f01e9d701", "Heinrichs-Weikamp (U-Blox)"},
	CatalogEntry{"544e326b-5b72-c6b0-1c46-41c1bc448118", "Mares BlueLink Pro"},
	CatalogEntry{"98ae7120-e62e-11e3-badd-0002a5d5c51b", "Suunto (EON Steel/Core, G5)"},
	CatalogEntry{"cb3c4555-d670-4670-bc20-b61dbc851e9a", "Pelagic (i770R, i200C, Pro Plus X, Geo 4.0)"},
	CatalogEntry{"ca7b0001-f785-4c38-b599-c7c5fbadb034", "Pelagic (i330R, DSX)"},
	CatalogEntry{"fdcdeaaa-295d-470e-bf15-04217b7aa0a0", "ScubaPro (G2, G3)"},
	CatalogEntry{"fe25c237-0ece-443c-b0aa-e02033e7029d", "Shearwater (Perdix/Teric/Peregrine/Tern)"},
	CatalogEntry{"0000fcef-0000-1000-8000-00805f9b34fb", "Divesoft"},
	CatalogEntry{"6e400001-b5a3-f393-e0a9-e50e24dc10b8", "Cressi"},
	CatalogEntry{"6e400001-b5a3-f393-e0a9-e50e24dcca9e", "Nordic Semi UART"},
	CatalogEntry{"00000001-8c3b-4f2c-a59e-8c08224f3253", "Halcyon Symbios"},
)

// KnownServices returns the built-in catalog of dive-computer services.
func KnownServices() *Catalog {
	return knownServices
}

// Label returns the human readable label for a service UUID in any notation.
func (c *Catalog) Label(uuid string) (string, bool) {
	return c.entries.Get(NormalizeUUID(uuid))
}

// Contains reports whether uuid is a catalog service.
func (c *Catalog) Contains(uuid string) bool {
	_, ok := c.Label(uuid)
	return ok
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return c.entries.Len()
}

// Entries returns the catalog in priority order.
func (c *Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, CatalogEntry{UUID: pair.Key, Label: pair.Value})
	}
	return out
}

// UUIDs returns the normalized catalog UUIDs in priority order.
func (c *Catalog) UUIDs() []string {
	out := make([]string, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Match walks the catalog in priority order and returns the first entry whose
// UUID appears in uuids.
func (c *Catalog) Match(uuids []string) (CatalogEntry, bool) {
	present := make(map[string]struct{}, len(uuids))
	for _, u := range uuids {
		present[NormalizeUUID(u)] = struct{}{}
	}
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := present[pair.Key]; ok {
			return CatalogEntry{UUID: pair.Key, Label: pair.Value}, true
		}
	}
	return CatalogEntry{}, false
}
