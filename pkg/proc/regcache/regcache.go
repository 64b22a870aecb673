// Package regcache assembles the protocol register blob of a thread view
// out of individual register transfers, and keeps recently assembled blobs
// around until the state they were read from changes.
package regcache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/vgstub/vgregs/pkg/logflags"
	"github.com/vgstub/vgregs/pkg/proc/guest"
	"github.com/vgstub/vgregs/pkg/proc/regxfer"
	"github.com/vgstub/vgregs/pkg/regdef"
)

// DefaultSize is the number of blobs a Cache keeps when no size is given.
const DefaultSize = 64

// Blob is the register blob of one view of a thread, laid out according to
// the catalog offsets. Valid[i] is false when register i could not be read,
// in which case its bytes are zero.
type Blob struct {
	View  guest.View
	Data  []byte
	Valid []bool
}

// Register returns the bytes of register i of the blob.
func (b *Blob) Register(catalog *regdef.Catalog, i int) []byte {
	reg := catalog.At(i)
	return b.Data[reg.ByteOffset() : reg.ByteOffset()+reg.Size()]
}

func (b *Blob) clone() *Blob {
	return &Blob{
		View:  b.View,
		Data:  append([]byte(nil), b.Data...),
		Valid: append([]bool(nil), b.Valid...),
	}
}

type key struct {
	tid  guest.ThreadID
	view guest.View
}

// Cache fetches and stores register blobs through a transfer engine.
type Cache struct {
	engine *regxfer.Engine
	regs   []regdef.Register
	size   int

	mu    sync.Mutex
	blobs *lru.Cache
}

// New returns a cache of up to size blobs of the registers exposed by
// engine.
func New(engine *regxfer.Engine, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	blobs, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	cfg := engine.Config()
	return &Cache{
		engine: engine,
		regs:   cfg.Catalog.Registers(cfg.Live),
		size:   cfg.Catalog.BlobSize(cfg.Live),
		blobs:  blobs,
	}, nil
}

// Fetch returns the blob of view of tid. The returned blob belongs to the
// caller.
func (c *Cache) Fetch(tid guest.ThreadID, view guest.View) (*Blob, error) {
	if err := c.checkView(view); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{tid, view}
	if v, ok := c.blobs.Get(k); ok {
		return v.(*Blob).clone(), nil
	}

	b := &Blob{View: view, Data: make([]byte, c.size), Valid: make([]bool, len(c.regs))}
	base := int(view) * len(c.regs)
	for i, reg := range c.regs {
		buf := b.Data[reg.ByteOffset() : reg.ByteOffset()+reg.Size()]
		b.Valid[i] = c.engine.Read(tid, base+i, buf)
		if !b.Valid[i] {
			// Unavailable registers read as zero.
			for j := range buf {
				buf[j] = 0
			}
		}
	}
	c.blobs.Add(k, b)
	if logflags.Regcache() {
		logflags.RegcacheLogger().Debugf("fetched %s view of thread %d", view, tid)
	}
	return b.clone(), nil
}

// Store writes the registers of b marked valid back into tid. It returns,
// for every register, whether the engine accepted the value.
func (c *Cache) Store(tid guest.ThreadID, b *Blob) ([]bool, error) {
	if err := c.checkView(b.View); err != nil {
		return nil, err
	}
	if len(b.Data) != c.size || len(b.Valid) != len(c.regs) {
		return nil, fmt.Errorf("blob of %d bytes and %d registers, expected %d bytes and %d registers", len(b.Data), len(b.Valid), c.size, len(c.regs))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	written := make([]bool, len(c.regs))
	base := int(b.View) * len(c.regs)
	for i, reg := range c.regs {
		if !b.Valid[i] {
			continue
		}
		written[i] = c.engine.Write(tid, base+i, b.Data[reg.ByteOffset():reg.ByteOffset()+reg.Size()])
	}
	c.blobs.Remove(key{tid, b.View})
	if logflags.Regcache() {
		logflags.RegcacheLogger().Debugf("stored %s view of thread %d", b.View, tid)
	}
	return written, nil
}

// Invalidate forgets every blob of tid.
func (c *Cache) Invalidate(tid guest.ThreadID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, view := range guest.Views {
		c.blobs.Remove(key{tid, view})
	}
}

// Purge forgets every blob.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobs.Purge()
}

// Len returns the number of blobs currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blobs.Len()
}

// SetPC changes the program counter of tid through the engine and drops the
// blobs of tid if it changed.
func (c *Cache) SetPC(tid guest.ThreadID, pc uint64) bool {
	if !c.engine.SetPC(tid, pc) {
		return false
	}
	c.Invalidate(tid)
	return true
}

func (c *Cache) checkView(view guest.View) error {
	if !view.Valid() || int(view) >= c.engine.Config().Views {
		return fmt.Errorf("view %s not exposed", view)
	}
	return nil
}
