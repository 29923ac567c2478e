package schedule

import (
	"slices"
	"time"

	"roomcheck/internal/model"
	"roomcheck/internal/roomid"
)

// Cache holds the current lecture feed, the last expansion made without an
// explicit reference date, and the last building directory.
//
// Cache is not safe for concurrent use; the owning session guards it.
type Cache struct {
	expander  *Expander
	records   []model.LectureRecord
	cached    *ExpandResult
	directory *roomid.Directory
}

func NewCache(expander *Expander) *Cache {
	return &Cache{expander: expander}
}

// Get returns the expansion for ref. With a nil ref the previous result is
// reused when present. An explicit ref always expands fresh and leaves the
// stored result alone.
func (c *Cache) Get(ref *time.Time) ExpandResult {
	if ref != nil {
		return c.expander.Expand(c.records, ref)
	}
	if c.cached == nil {
		res := c.expander.Expand(c.records, nil)
		c.cached = &res
	}
	out := *c.cached
	// Callers may flag conflicts in place.
	out.Occurrences = slices.Clone(c.cached.Occurrences)
	return out
}

// Invalidate drops the stored expansion.
func (c *Cache) Invalidate() {
	c.cached = nil
}

// SetRecords replaces the lecture feed and invalidates the stored expansion.
func (c *Cache) SetRecords(records []model.LectureRecord) {
	c.records = records
	c.Invalidate()
}

// Records returns the current lecture feed.
func (c *Cache) Records() []model.LectureRecord {
	return c.records
}

// Cached reports whether a null-date expansion is stored.
func (c *Cache) Cached() bool {
	return c.cached != nil
}

func (c *Cache) SetDirectory(d *roomid.Directory) {
	c.directory = d
}

// Directory returns the last building directory, or nil before the first
// successful refresh.
func (c *Cache) Directory() *roomid.Directory {
	return c.directory
}
