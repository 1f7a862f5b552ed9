package dist

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/chazu/jary/arena"
	"github.com/chazu/jary/vm"
	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrHashMismatch means an image's content does not match its hash.
	ErrHashMismatch = errors.New("dist: image hash mismatch")

	// ErrVersion means the image was written by an incompatible build.
	ErrVersion = errors.New("dist: unsupported image version")

	// ErrUnboundNatives means the image calls native functions that the
	// supplied table does not provide.
	ErrUnboundNatives = errors.New("dist: native functions not bound")
)

// cborEncMode uses canonical encoding so equal images hash equally.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalImage serializes an Image to CBOR bytes.
func MarshalImage(img *Image) ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// UnmarshalImage deserializes an Image and verifies its version and hash.
func UnmarshalImage(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("dist: unmarshal image: %w", err)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, img.Version)
	}
	if err := Verify(&img); err != nil {
		return nil, err
	}
	return &img, nil
}

// ComputeHash returns the SHA-256 of the image's canonical encoding with
// Hash zeroed.
func (img *Image) ComputeHash() ([32]byte, error) {
	c := *img
	c.Hash = [32]byte{}
	data, err := cborEncMode.Marshal(&c)
	if err != nil {
		return [32]byte{}, fmt.Errorf("dist: hash image: %w", err)
	}
	return sha256.Sum256(data), nil
}

// Verify recomputes the image hash and compares it with the declared one.
func Verify(img *Image) error {
	computed, err := img.ComputeHash()
	if err != nil {
		return err
	}
	if computed != img.Hash {
		return fmt.Errorf("%w: declared %x, computed %x", ErrHashMismatch, img.Hash, computed)
	}
	return nil
}

// Program rebuilds a runnable program from img with its heap capped at
// limit. An image that calls native functions needs natives whose entries
// carry the same names at the same indexes.
func (img *Image) Program(limit int, natives *vm.NativeTable) (*vm.Program, error) {
	if len(img.Natives) > 0 {
		if natives.Len() < len(img.Natives) {
			return nil, fmt.Errorf("%w: image needs %d, table has %d", ErrUnboundNatives, len(img.Natives), natives.Len())
		}
		for i, name := range img.Natives {
			if got := natives.Name(uint32(i)); got != name {
				return nil, fmt.Errorf("%w: #%d is %q, image wants %q", ErrUnboundNatives, i, got, name)
			}
		}
	} else {
		natives = nil
	}

	heap, err := arena.FromImage(img.Heap, limit)
	if err != nil {
		return nil, fmt.Errorf("dist: heap: %w", err)
	}
	prog := &vm.Program{
		Pool:     vm.NewConstantPool(heap),
		Names:    vm.NewNameTable(),
		Heap:     heap,
		Code:     bytes.Clone(img.Code),
		Imports:  append([]string(nil), img.Imports...),
		Includes: append([]string(nil), img.Includes...),
		Natives:  natives,
	}
	if err := prog.Pool.Restore(img.Values, img.Kinds); err != nil {
		return nil, fmt.Errorf("dist: %w", err)
	}
	for _, n := range img.Names {
		prog.Names.Declare(n.Text, n.Kind)
	}
	for i, r := range img.Rules {
		if r.Start < 0 || r.Start > r.End || r.End > len(prog.Code) {
			return nil, fmt.Errorf("dist: rule %d (%s) spans %d..%d of %d bytes", i, r.Name, r.Start, r.End, len(prog.Code))
		}
		prog.Rules = append(prog.Rules, vm.Rule{Name: r.Name, NameID: r.NameID, Start: r.Start, End: r.End})
	}
	// The hash only proves the image is intact, not that a compiler wrote it.
	if err := prog.Verify(); err != nil {
		return nil, fmt.Errorf("dist: %w", err)
	}
	return prog, nil
}
