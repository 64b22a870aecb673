package target

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/vgstub/vgregs/pkg/proc/features"
	"github.com/vgstub/vgregs/pkg/proc/guest"
)

// SelectDescriptor returns the name of the target description document
// announced to the peer. When no document is returned the peer falls back to
// its built in amd64 register layout, which matches the baseline catalog.
func SelectDescriptor(hasAVX, shadow bool, os OSFamily) (string, bool) {
	var name string
	switch {
	case shadow && hasAVX:
		name = "amd64-avx-%s-valgrind.xml"
	case shadow:
		name = "amd64-%s-valgrind.xml"
	case hasAVX:
		name = "amd64-avx-%s.xml"
	default:
		return "", false
	}
	variant := "coresse"
	if os == Linux {
		variant = "linux"
	}
	return fmt.Sprintf(name, variant), true
}

// ErrDescriptorMismatch is returned by VerifyDescriptor when a target
// description does not describe the registers of a configuration.
var ErrDescriptorMismatch = errors.New("target description does not match register catalog")

// DescriptorReader returns the contents of the target description document
// called annex.
type DescriptorReader func(annex string) ([]byte, error)

// DirReader returns a DescriptorReader reading documents from dir.
func DirReader(dir string) DescriptorReader {
	return func(annex string) ([]byte, error) {
		if annex != filepath.Base(annex) {
			return nil, fmt.Errorf("invalid annex name %q", annex)
		}
		return ioutil.ReadFile(filepath.Join(dir, annex))
	}
}

// descElement is any element of a target description. The DTD is described
// by gdb/features/gdb-target.dtd in the gdb sources, only the elements that
// describe registers matter here.
type descElement struct {
	XMLName  xml.Name
	Href     string        `xml:"href,attr"`
	Name     string        `xml:"name,attr"`
	Bitsize  int           `xml:"bitsize,attr"`
	Regnum   *int          `xml:"regnum,attr"`
	Children []descElement `xml:",any"`
}

// DescriptorRegister is a register as announced by a target description.
type DescriptorRegister struct {
	Name    string
	Bitsize int
	Regnum  int
}

const maxIncludeDepth = 8

// ReadDescriptor parses the target description annex, following its
// includes, and returns the registers it describes in protocol order.
func ReadDescriptor(read DescriptorReader, annex string) ([]DescriptorRegister, error) {
	var regs []DescriptorRegister
	regnum := 0
	if err := readAnnex(read, annex, 0, &regs, &regnum); err != nil {
		return nil, err
	}
	return regs, nil
}

func readAnnex(read DescriptorReader, annex string, depth int, regs *[]DescriptorRegister, regnum *int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("%s: includes nested too deep", annex)
	}
	buf, err := read(annex)
	if err != nil {
		return err
	}
	var root descElement
	if err := xml.Unmarshal(buf, &root); err != nil {
		return fmt.Errorf("%s: %w", annex, err)
	}
	return walkDescriptor(read, annex, &root, depth, regs, regnum)
}

func walkDescriptor(read DescriptorReader, annex string, el *descElement, depth int, regs *[]DescriptorRegister, regnum *int) error {
	switch el.XMLName.Local {
	case "include":
		return readAnnex(read, el.Href, depth+1, regs, regnum)
	case "reg":
		if el.Regnum != nil {
			*regnum = *el.Regnum
		}
		if el.Name == "" || el.Bitsize <= 0 {
			return fmt.Errorf("%s: register %d without name or size", annex, *regnum)
		}
		*regs = append(*regs, DescriptorRegister{Name: el.Name, Bitsize: el.Bitsize, Regnum: *regnum})
		*regnum = *regnum + 1
		return nil
	}
	for i := range el.Children {
		if err := walkDescriptor(read, annex, &el.Children[i], depth, regs, regnum); err != nil {
			return err
		}
	}
	return nil
}

// shadowName returns the name a register carries in view v of a target
// description.
func shadowName(name string, v guest.View) string {
	switch v {
	case guest.Shadow1:
		return name + "s1"
	case guest.Shadow2:
		return name + "s2"
	}
	return name
}

// VerifyDescriptor checks that regs, as returned by ReadDescriptor, number,
// name and size every register of cfg the same way the transfer engine
// does.
func VerifyDescriptor(regs []DescriptorRegister, cfg features.Config) error {
	if len(regs) != cfg.NumRegs() {
		return fmt.Errorf("%w: %d registers described, %d exposed", ErrDescriptorMismatch, len(regs), cfg.NumRegs())
	}
	for n, dr := range regs {
		view := guest.View(n / cfg.Live)
		reg := cfg.Catalog.At(n % cfg.Live)
		name := shadowName(reg.Name, view)
		switch {
		case dr.Regnum != n:
			return fmt.Errorf("%w: %s is register %d, expected %d", ErrDescriptorMismatch, dr.Name, dr.Regnum, n)
		case dr.Name != name:
			return fmt.Errorf("%w: register %d is %s, expected %s", ErrDescriptorMismatch, n, dr.Name, name)
		case dr.Bitsize != reg.Bitsize:
			return fmt.Errorf("%w: %s is %d bits wide, expected %d", ErrDescriptorMismatch, dr.Name, dr.Bitsize, reg.Bitsize)
		}
	}
	return nil
}

// WriteDescriptor writes a single document target description of the
// registers of cfg to w. Register types are chosen after the ones used by
// gdb's own amd64 feature files.
func WriteDescriptor(w io.Writer, cfg features.Config) error {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<!DOCTYPE target SYSTEM \"gdb-target.dtd\">\n<target>\n")
	fmt.Fprintf(&buf, "  <architecture>i386:x86-64</architecture>\n")
	for _, view := range guest.Views[:cfg.Views] {
		fmt.Fprintf(&buf, "  <feature name=\"org.vgregs.amd64.%s\">\n", view)
		for i, reg := range cfg.Catalog.Registers(cfg.Live) {
			name := shadowName(reg.Name, view)
			fmt.Fprintf(&buf, "    <reg name=\"%s\" bitsize=\"%d\" regnum=\"%d\" type=\"%s\"/>\n", name, reg.Bitsize, int(view)*cfg.Live+i, regType(reg.Name, reg.Bitsize))
		}
		buf.WriteString("  </feature>\n")
	}
	buf.WriteString("</target>\n")
	_, err := w.Write(buf.Bytes())
	return err
}

func regType(name string, bitsize int) string {
	switch {
	case name == "rip":
		return "code_ptr"
	case name == "rsp" || name == "rbp":
		return "data_ptr"
	case strings.HasPrefix(name, "st") && bitsize == 80:
		return "i387_ext"
	case bitsize == 64:
		return "int64"
	case bitsize == 32:
		return "int32"
	}
	return fmt.Sprintf("uint%d", bitsize)
}
