package syncengine

import "github.com/coldpalm/palmsync/dlp"

// PrefKey identifies one preference by its owning creator and id.
type PrefKey struct {
	Creator uint32
	ID      uint16
}

// PrefEntry is a materialized preference: its version and raw bytes, or
// a marker that it is known to be empty. A zero-size result is cached as
// empty rather than retried on every conduit that declares interest in it.
type PrefEntry struct {
	Version uint16
	Data    []byte
	Known   bool
}

// PrefDecl is one conduit's declared interest in a preference.
type PrefDecl struct {
	Creator uint32
	ID      uint16
	Saved   bool
	// AnyPersistence is true when the conduit did not specify SAVED vs.
	// UNSAVED; the cache then tries SAVED first, then UNSAVED.
	AnyPersistence bool
}

// PrefReader is the subset of dlp.Client the pref cache needs.
type PrefReader interface {
	ReadAppPreference(creator uint32, id uint16, saved bool) (uint16, []byte, error)
}

// PrefCache unions every conduit's declared preferences, deduplicated by
// (creator,id), and materializes each via the two-pass DLP protocol.
type PrefCache struct {
	entries map[PrefKey]PrefEntry
}

func NewPrefCache() *PrefCache {
	return &PrefCache{entries: map[PrefKey]PrefEntry{}}
}

// Populate fetches every declared preference not already cached.
func (c *PrefCache) Populate(d PrefReader, decls []PrefDecl) error {
	for _, decl := range decls {
		key := PrefKey{Creator: decl.Creator, ID: decl.ID}
		if _, ok := c.entries[key]; ok {
			continue
		}
		saved := decl.Saved || decl.AnyPersistence
		ver, data, err := d.ReadAppPreference(decl.Creator, decl.ID, saved)
		if err != nil && decl.AnyPersistence {
			ver, data, err = d.ReadAppPreference(decl.Creator, decl.ID, !saved)
		}
		if err != nil {
			continue
		}
		c.entries[key] = PrefEntry{Version: ver, Data: data, Known: true}
	}
	return nil
}

func (c *PrefCache) Get(creator uint32, id uint16) (PrefEntry, bool) {
	e, ok := c.entries[PrefKey{Creator: creator, ID: id}]
	return e, ok
}

// Set stores a materialized preference directly, overwriting any
// existing entry for (creator,id). Used after a conduit writes a
// preference through the SPC side channel, so a later conduit's read
// sees the new value instead of the one fetched at session start.
func (c *PrefCache) Set(creator uint32, id uint16, version uint16, data []byte) {
	c.entries[PrefKey{Creator: creator, ID: id}] = PrefEntry{Version: version, Data: data, Known: true}
}

// PrefWriter is the subset of dlp.Client the pref cache needs to write a
// preference through to the device.
type PrefWriter interface {
	WriteAppPreference(creator uint32, id uint16, version uint16, saved bool, data []byte) error
}

// Write pushes data to the device via d and, on success, updates the
// cache so subsequent reads (by this or a later conduit) see it.
func (c *PrefCache) Write(d PrefWriter, creator uint32, id uint16, version uint16, saved bool, data []byte) error {
	if err := d.WriteAppPreference(creator, id, version, saved, data); err != nil {
		return err
	}
	c.Set(creator, id, version, data)
	return nil
}

var (
	_ PrefReader = (*dlp.Client)(nil)
	_ PrefWriter = (*dlp.Client)(nil)
)
