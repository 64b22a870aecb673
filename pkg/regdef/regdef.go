// Package regdef describes the registers exposed to a GDB remote protocol
// peer: their names, their position inside the protocol register blob and
// their width. The order of a Catalog is the protocol register number.
package regdef

import (
	"errors"
	"fmt"
	"strings"

	"github.com/derekparker/trie"
)

// ErrUnknownRegister is returned when a register name is not part of the
// catalog, or sits beyond its live portion.
var ErrUnknownRegister = errors.New("unknown register")

// Register describes one protocol visible register. Offset and Bitsize are
// expressed in bits inside the canonical register blob of a single view.
type Register struct {
	Name    string
	Offset  int
	Bitsize int
}

// Size returns the size of the register in bytes.
func (r Register) Size() int {
	return r.Bitsize / 8
}

// ByteOffset returns the offset of the register inside the blob, in bytes.
func (r Register) ByteOffset() int {
	return r.Offset / 8
}

func (r Register) String() string {
	return fmt.Sprintf("%s@%d/%d", r.Name, r.Offset, r.Bitsize)
}

// Catalog is an ordered sequence of register descriptions. Catalogs are
// built once at package initialization and never modified.
type Catalog struct {
	arch  string
	regs  []Register
	names map[string]int
	index *trie.Trie
}

func newCatalog(arch string, regs []Register) *Catalog {
	c := &Catalog{
		arch:  arch,
		regs:  regs,
		names: make(map[string]int, len(regs)),
		index: trie.New(),
	}
	for i, reg := range regs {
		if _, dup := c.names[reg.Name]; dup {
			panic(fmt.Sprintf("duplicate register %q in %s catalog", reg.Name, arch))
		}
		c.names[reg.Name] = i
		c.index.Add(reg.Name, i)
	}
	return c
}

// Arch returns the architecture name of the catalog.
func (c *Catalog) Arch() string {
	return c.arch
}

// Len returns the full number of registers of the catalog, regardless of
// which ones the host supports.
func (c *Catalog) Len() int {
	return len(c.regs)
}

// At returns the register with protocol number n.
func (c *Catalog) At(n int) Register {
	return c.regs[n]
}

// Registers returns the first n registers of the catalog.
func (c *Catalog) Registers(n int) []Register {
	if n > len(c.regs) {
		n = len(c.regs)
	}
	return c.regs[:n:n]
}

// Lookup returns the protocol number of the register called name, only
// considering the first live registers.
func (c *Catalog) Lookup(name string, live int) (int, error) {
	n, ok := c.names[strings.ToLower(name)]
	if !ok || n >= live {
		return -1, fmt.Errorf("%w %q", ErrUnknownRegister, name)
	}
	return n, nil
}

// Complete returns the names of the live registers starting with prefix,
// sorted by protocol number.
func (c *Catalog) Complete(prefix string, live int) []string {
	keys := c.index.PrefixSearch(strings.ToLower(prefix))
	found := make([]bool, live)
	for _, key := range keys {
		node, ok := c.index.Find(key)
		if !ok {
			continue
		}
		if n := node.Meta().(int); n < live {
			found[n] = true
		}
	}
	var r []string
	for n := range found {
		if found[n] {
			r = append(r, c.regs[n].Name)
		}
	}
	return r
}

// BlobSize returns the size in bytes of the register blob of a single view
// covering the first n registers.
func (c *Catalog) BlobSize(n int) int {
	sz := 0
	for _, reg := range c.Registers(n) {
		if end := (reg.Offset + reg.Bitsize) / 8; end > sz {
			sz = end
		}
	}
	return sz
}

// Check verifies that no two registers of the catalog overlap and that
// every register is byte aligned.
func (c *Catalog) Check() error {
	for i, a := range c.regs {
		if a.Offset%8 != 0 || a.Bitsize%8 != 0 || a.Bitsize == 0 {
			return fmt.Errorf("register %s is not byte aligned", a)
		}
		for _, b := range c.regs[i+1:] {
			if a.Offset < b.Offset+b.Bitsize && b.Offset < a.Offset+a.Bitsize {
				return fmt.Errorf("register %s overlaps %s", a, b)
			}
		}
	}
	return nil
}
