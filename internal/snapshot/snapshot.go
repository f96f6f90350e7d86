package snapshot

import (
	"maps"
	"slices"
	"time"
)

// Snapshot is one immutable, complete read of all device state.
//
// Thread Safety:
//   - A Snapshot has no mutators; all methods are safe for concurrent use.
type Snapshot struct {
	data      Data
	fetchedAt time.Time
}

// New builds a Snapshot from d. The input is deep-copied, so later changes
// to d (or to any map inside it) are not visible through the Snapshot.
//
// Parameters:
//   - d: Device records as decoded from the cloud
//   - fetchedAt: When the poll completed
func New(d Data, fetchedAt time.Time) *Snapshot {
	return &Snapshot{
		data:      d.DeepCopy(),
		fetchedAt: fetchedAt,
	}
}

// FetchedAt returns when the poll that produced this Snapshot completed.
func (s *Snapshot) FetchedAt() time.Time {
	return s.fetchedAt
}

// Data returns a deep copy of every record, for rendering.
func (s *Snapshot) Data() Data {
	return s.data.DeepCopy()
}

// IsEmpty reports whether the Snapshot holds no litter boxes, scanners,
// tags or cats.
func (s *Snapshot) IsEmpty() bool {
	return s.DeviceCount() == 0
}

// DeviceCount returns the total number of records across all kinds.
func (s *Snapshot) DeviceCount() int {
	return len(s.data.LitterBoxes) + len(s.data.Scanners) + len(s.data.Tags) + len(s.data.Cats)
}

// IDs returns the sorted record IDs of one kind.
func (s *Snapshot) IDs(kind Kind) []string {
	switch kind {
	case KindLitterBox:
		return slices.Sorted(maps.Keys(s.data.LitterBoxes))
	case KindScanner:
		return slices.Sorted(maps.Keys(s.data.Scanners))
	case KindTag:
		return slices.Sorted(maps.Keys(s.data.Tags))
	case KindCat:
		return slices.Sorted(maps.Keys(s.data.Cats))
	default:
		return nil
	}
}

// Has reports whether a record of the given kind and ID exists.
func (s *Snapshot) Has(kind Kind, id string) bool {
	var ok bool
	switch kind {
	case KindLitterBox:
		_, ok = s.data.LitterBoxes[id]
	case KindScanner:
		_, ok = s.data.Scanners[id]
	case KindTag:
		_, ok = s.data.Tags[id]
	case KindCat:
		_, ok = s.data.Cats[id]
	}
	return ok
}

// LitterBox returns a copy of one litter box record.
func (s *Snapshot) LitterBox(id string) (LitterBox, bool) {
	lb, ok := s.data.LitterBoxes[id]
	if !ok {
		return LitterBox{}, false
	}
	return lb.DeepCopy(), true
}

// Scanner returns a copy of one scanner record.
func (s *Snapshot) Scanner(id string) (Scanner, bool) {
	sc, ok := s.data.Scanners[id]
	return sc, ok
}

// Tag returns a copy of one tag record.
func (s *Snapshot) Tag(id string) (Tag, bool) {
	t, ok := s.data.Tags[id]
	return t, ok
}

// Cat returns a copy of one cat record.
func (s *Snapshot) Cat(id string) (Cat, bool) {
	c, ok := s.data.Cats[id]
	return c, ok
}

// LitterBoxes returns copies of all litter boxes ordered by ID.
func (s *Snapshot) LitterBoxes() []LitterBox {
	out := make([]LitterBox, 0, len(s.data.LitterBoxes))
	for _, id := range s.IDs(KindLitterBox) {
		out = append(out, s.data.LitterBoxes[id].DeepCopy())
	}
	return out
}

// Scanners returns copies of all scanners ordered by ID.
func (s *Snapshot) Scanners() []Scanner {
	out := make([]Scanner, 0, len(s.data.Scanners))
	for _, id := range s.IDs(KindScanner) {
		out = append(out, s.data.Scanners[id])
	}
	return out
}

// Tags returns copies of all tags ordered by ID.
func (s *Snapshot) Tags() []Tag {
	out := make([]Tag, 0, len(s.data.Tags))
	for _, id := range s.IDs(KindTag) {
		out = append(out, s.data.Tags[id])
	}
	return out
}

// Cats returns copies of all cats ordered by ID.
func (s *Snapshot) Cats() []Cat {
	out := make([]Cat, 0, len(s.data.Cats))
	for _, id := range s.IDs(KindCat) {
		out = append(out, s.data.Cats[id])
	}
	return out
}
