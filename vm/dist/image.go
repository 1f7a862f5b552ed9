// Package dist serializes compiled rule programs as content-addressed CBOR
// images, so a program can be cached, written to disk by the CLI, and loaded
// by another process without recompiling.
package dist

import (
	"github.com/chazu/jary/arena"
	"github.com/chazu/jary/vm"
)

// ImageVersion is bumped whenever the layout of Image or of the bytecode
// changes incompatibly.
const ImageVersion = 1

// Image is a compiled program in wire form. Hash is the SHA-256 of the
// canonical encoding of the image with Hash zeroed.
type Image struct {
	Version  uint8       `cbor:"1,keyasint"`
	Hash     [32]byte    `cbor:"2,keyasint"`
	Heap     arena.Image `cbor:"3,keyasint"`
	Values   []vm.Value  `cbor:"4,keyasint,omitempty"`
	Kinds    []vm.Kind   `cbor:"5,keyasint,omitempty"`
	Names    []Name      `cbor:"6,keyasint,omitempty"`
	Code     []byte      `cbor:"7,keyasint,omitempty"`
	Rules    []Rule      `cbor:"8,keyasint,omitempty"`
	Imports  []string    `cbor:"9,keyasint,omitempty"`
	Includes []string    `cbor:"10,keyasint,omitempty"`
	Natives  []string    `cbor:"11,keyasint,omitempty"` // native table names, by index
}

// Name is one name table entry.
type Name struct {
	Text string  `cbor:"1,keyasint"`
	Kind vm.Kind `cbor:"2,keyasint"`
}

// Rule is one rule's code range.
type Rule struct {
	Name   string `cbor:"1,keyasint"`
	NameID int    `cbor:"2,keyasint"`
	Start  int    `cbor:"3,keyasint"`
	End    int    `cbor:"4,keyasint"`
}

// FromProgram captures prog as an image and computes its hash.
func FromProgram(prog *vm.Program) (*Image, error) {
	img := &Image{
		Version:  ImageVersion,
		Heap:     prog.Heap.Image(),
		Values:   append([]vm.Value(nil), prog.Pool.Values()...),
		Kinds:    append([]vm.Kind(nil), prog.Pool.Kinds()...),
		Code:     append([]byte(nil), prog.Code...),
		Imports:  append([]string(nil), prog.Imports...),
		Includes: append([]string(nil), prog.Includes...),
	}
	for _, n := range prog.Names.All() {
		img.Names = append(img.Names, Name{Text: n.Text, Kind: n.Kind})
	}
	for _, r := range prog.Rules {
		img.Rules = append(img.Rules, Rule{Name: r.Name, NameID: r.NameID, Start: r.Start, End: r.End})
	}
	for i := 0; i < prog.Natives.Len(); i++ {
		img.Natives = append(img.Natives, prog.Natives.Name(uint32(i)))
	}
	h, err := img.ComputeHash()
	if err != nil {
		return nil, err
	}
	img.Hash = h
	return img, nil
}

// RuleNames lists the image's rules in order.
func (img *Image) RuleNames() []string {
	names := make([]string, len(img.Rules))
	for i, r := range img.Rules {
		names[i] = r.Name
	}
	return names
}
