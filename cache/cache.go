// Package cache implements the page cache (component J): get(vnode,
// offset) returns a vmpage, inserting on miss; two concurrent misses
// for the same key produce the same vmpage identity (spec §8).
// Grounded on the teacher's hashtable package for the index itself,
// with golang.org/x/sync/singleflight in front of it giving the
// single-flight population guarantee an explicit, testable
// implementation instead of a hand-rolled mutex-and-map (SPEC_FULL.md
// domain-stack wiring).
package cache

import (
	"fmt"

	"golang.org/x/sync/singleflight"

	"kernel/bounds"
	"kernel/defs"
	"kernel/hashtable"
	"kernel/mem"
	"kernel/res"
	"kernel/vm"
)

// Source is the capability a cacheable vnode needs: fetch the page
// backing offset. vfs.Vnode_i satisfies this.
type Source interface {
	GetPage(offset int64) (mem.Pa_t, defs.Err_t)
}

// Cache_t is the single process-wide page cache. Its index is a
// hashtable keyed by a composite (vnode identity, offset) string; the
// entries are not kept in key order.
type Cache_t struct {
	ht    *hashtable.Hashtable_t
	flight singleflight.Group
}

// New returns a cache with nbuckets index buckets.
func New(nbuckets int) *Cache_t {
	return &Cache_t{ht: hashtable.MkHash(nbuckets)}
}

func key(v Source, offset int64) string {
	return fmt.Sprintf("%p:%020d", v, offset)
}

// Get returns the vmpage covering offset in v, installing one on a
// miss. Concurrent misses for the same key single-flight through to
// one GetPage call and share the resulting vmpage.
func (c *Cache_t) Get(v Source, offset int64) (*vm.Vmpage, defs.Err_t) {
	k := key(v, offset)
	if val, ok := c.ht.Get(k); ok {
		return val.(*vm.Vmpage), 0
	}

	if !res.Resadd_noblock(bounds.B_CACHE_T_GET) {
		return nil, -defs.ENOHEAP
	}
	defer res.Resdel()

	result, err, _ := c.flight.Do(k, func() (interface{}, error) {
		if val, ok := c.ht.Get(k); ok {
			return val.(*vm.Vmpage), nil
		}
		pa, ferr := v.GetPage(offset)
		if ferr != 0 {
			return nil, flightErr(ferr)
		}
		pg := vm.NewVmpage(pa)
		c.ht.Set(k, pg)
		return pg, nil
	})
	if err != nil {
		return nil, err.(flightErr)
	}
	return result.(*vm.Vmpage), 0
}

// flightErr lets a defs.Err_t travel through singleflight.Do's
// error-typed return without wrapping it in the stdlib error interface
// the rest of the core deliberately avoids (see SPEC_FULL.md's ambient
// error-handling section).
type flightErr defs.Err_t

func (e flightErr) Error() string { return fmt.Sprintf("errno %d", int(e)) }

// Size reports the number of cached pages, for tests and diagnostics.
func (c *Cache_t) Size() int { return c.ht.Size() }
