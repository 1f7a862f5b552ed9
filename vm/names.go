package vm

import "fmt"

// ---------------------------------------------------------------------------
// NameTable: declared identifiers
// ---------------------------------------------------------------------------

// Name is one declared identifier.
type Name struct {
	Hash uint32
	Text string
	Kind Kind
}

// NameTable assigns stable ids to declared identifiers in declaration order.
type NameTable struct {
	byText map[string]int
	byID   []Name
}

// NewNameTable creates an empty name table.
func NewNameTable() *NameTable {
	return &NameTable{byText: make(map[string]int)}
}

// Declare adds name with kind k. If the name exists, its id is returned with
// existed set and the table is unchanged.
func (t *NameTable) Declare(name string, k Kind) (id int, existed bool) {
	if id, ok := t.byText[name]; ok {
		return id, true
	}
	id = len(t.byID)
	t.byText[name] = id
	t.byID = append(t.byID, Name{Hash: Hash(name), Text: name, Kind: k})
	return id, false
}

// Lookup returns the id of name.
func (t *NameTable) Lookup(name string) (int, bool) {
	id, ok := t.byText[name]
	return id, ok
}

// At returns the entry with the given id.
func (t *NameTable) At(id int) Name {
	return t.byID[id]
}

// Len returns the number of names.
func (t *NameTable) Len() int {
	return len(t.byID)
}

// All returns all entries in id order.
func (t *NameTable) All() []Name {
	out := make([]Name, len(t.byID))
	copy(out, t.byID)
	return out
}

// ---------------------------------------------------------------------------
// Defs: definitions table
// ---------------------------------------------------------------------------

// Defs binds names to values. It is the table a native module populates
// while loading.
type Defs struct {
	names  *NameTable
	values []Value
}

// NewDefs creates an empty definitions table.
func NewDefs() *Defs {
	return &Defs{names: NewNameTable()}
}

// Define binds name to (v, k). Names can only be defined once.
func (d *Defs) Define(name string, v Value, k Kind) error {
	if _, existed := d.names.Declare(name, k); existed {
		return fmt.Errorf("defs: %q is already defined", name)
	}
	d.values = append(d.values, v)
	return nil
}

// Find returns the value and kind bound to name.
func (d *Defs) Find(name string) (Value, Kind, bool) {
	id, ok := d.names.Lookup(name)
	if !ok {
		return 0, KindUnknown, false
	}
	return d.values[id], d.names.At(id).Kind, true
}

// Names exposes the underlying name table.
func (d *Defs) Names() *NameTable {
	return d.names
}

// Len returns the number of definitions.
func (d *Defs) Len() int {
	return len(d.values)
}
