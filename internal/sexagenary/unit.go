// Package sexagenary implements the base-60 cyclic arithmetic kernel used for
// temporal coordinates. A Unit is an immutable value in [0,59] that decomposes
// into a stem (period 10) and a branch (period 12); only same-parity
// stem/branch pairs are representable, which is what reduces the 120 possible
// pairs to the 60-value cycle.
package sexagenary

import (
	"encoding/json"
	"fmt"

	"chronos/internal/types"
)

const (
	// Cycle is the period of the sexagenary cycle, the least common
	// multiple of StemCount and BranchCount.
	Cycle = 60

	// StemCount is the period of the stem sub-cycle.
	StemCount = 10

	// BranchCount is the period of the branch sub-cycle.
	BranchCount = 12
)

// stemNames are the ASCII pinyin identifiers of the ten heavenly stems,
// indexed by stem value.
var stemNames = [StemCount]string{
	"Jia", "Yi", "Bing", "Ding", "Wu", "Ji", "Geng", "Xin", "Ren", "Gui",
}

// branchNames are the ASCII pinyin identifiers of the twelve earthly branches,
// indexed by branch value.
var branchNames = [BranchCount]string{
	"Zi", "Chou", "Yin", "Mao", "Chen", "Si", "Wu", "Wei", "Shen", "You", "Xu", "Hai",
}

// elementNames maps stem pair (stem/2) to its WuXing element attribute.
var elementNames = [5]string{"Wood", "Fire", "Earth", "Metal", "Water"}

// Unit is a value in the sexagenary cycle. The zero value is Jia-Zi (0).
// Units are immutable; all arithmetic returns new values, so they are safe to
// copy and share across goroutines.
type Unit struct {
	value int
}

// FromValue constructs a Unit from its cycle index.
// Returns a range_error AppError if v is outside [0,59].
func FromValue(v int) (Unit, error) {
	if v < 0 || v >= Cycle {
		return Unit{}, types.NewAppErrorWithDetails(
			types.ErrCodeRange,
			fmt.Sprintf("sexagenary value must be in [0,%d)", Cycle),
			nil,
			map[string]any{"value": v},
		)
	}
	return Unit{value: v}, nil
}

// FromStemBranch constructs the unique Unit whose value is congruent to stem
// mod 10 and branch mod 12. Stems and branches of unequal parity never meet
// in the cycle; such pairs fail with invalid_combination. Out-of-range
// indices fail with range_error.
func FromStemBranch(stem, branch int) (Unit, error) {
	if stem < 0 || stem >= StemCount {
		return Unit{}, types.NewAppErrorWithDetails(
			types.ErrCodeRange,
			fmt.Sprintf("stem index must be in [0,%d)", StemCount),
			nil,
			map[string]any{"stem": stem},
		)
	}
	if branch < 0 || branch >= BranchCount {
		return Unit{}, types.NewAppErrorWithDetails(
			types.ErrCodeRange,
			fmt.Sprintf("branch index must be in [0,%d)", BranchCount),
			nil,
			map[string]any{"branch": branch},
		)
	}
	if stem%2 != branch%2 {
		return Unit{}, types.NewAppErrorWithDetails(
			types.ErrCodeInvalidCombination,
			"stem and branch parity must match",
			nil,
			map[string]any{"stem": stem, "branch": branch},
		)
	}

	// Chinese-remainder-style resolution: walk the ten candidates that
	// satisfy value mod 10 == stem and pick the one matching the branch.
	for v := stem; v < Cycle; v += StemCount {
		if v%BranchCount == branch {
			return Unit{value: v}, nil
		}
	}

	// Unreachable for matched parity: gcd(10,12)=2 guarantees a solution.
	return Unit{}, types.NewAppError(
		types.ErrCodeInvalidCombination,
		"no cycle value satisfies the stem/branch pair",
		nil,
	)
}

// Value returns the cycle index in [0,59].
func (u Unit) Value() int { return u.value }

// Stem returns the stem index in [0,9].
func (u Unit) Stem() int { return u.value % StemCount }

// Branch returns the branch index in [0,11].
func (u Unit) Branch() int { return u.value % BranchCount }

// StemName returns the pinyin identifier of the stem.
func (u Unit) StemName() string { return stemNames[u.Stem()] }

// BranchName returns the pinyin identifier of the branch.
func (u Unit) BranchName() string { return branchNames[u.Branch()] }

// Element returns the WuXing element attribute of the stem pair.
func (u Unit) Element() string { return elementNames[u.Stem()/2] }

// Advance returns the Unit k steps forward in the cycle. Negative k moves
// backward. Total and pure for any k.
func (u Unit) Advance(k int) Unit {
	v := (u.value + k) % Cycle
	if v < 0 {
		v += Cycle
	}
	return Unit{value: v}
}

// DistanceTo returns the non-negative forward cyclic distance from u to
// other, in [0,59].
func (u Unit) DistanceTo(other Unit) int {
	d := (other.value - u.value) % Cycle
	if d < 0 {
		d += Cycle
	}
	return d
}

// String renders the unit as "Stem-Branch(index)", e.g. "Jia-Zi(0)".
func (u Unit) String() string {
	return fmt.Sprintf("%s-%s(%d)", u.StemName(), u.BranchName(), u.value)
}

// unitJSON is the serialized pillar form.
type unitJSON struct {
	Index   int    `json:"index"`
	Stem    string `json:"stem"`
	Branch  string `json:"branch"`
	Element string `json:"element"`
}

// MarshalJSON emits the pillar wire shape: index, stem, branch, element.
func (u Unit) MarshalJSON() ([]byte, error) {
	return json.Marshal(unitJSON{
		Index:   u.value,
		Stem:    u.StemName(),
		Branch:  u.BranchName(),
		Element: u.Element(),
	})
}

// UnmarshalJSON accepts the pillar wire shape and validates the index. Name
// fields are ignored on input; the index is authoritative.
func (u *Unit) UnmarshalJSON(b []byte) error {
	var raw unitJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := FromValue(raw.Index)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
