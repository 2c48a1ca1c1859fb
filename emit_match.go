package lily

import (
	"fmt"

	"go.uber.org/zap"
)

// MatchArm is one arm of a match expression: the variant it handles and
// the callback that emits its body once dispatch lands there.
type MatchArm struct {
	VariantID int
	Emit      func(e *Emitter)
}

// EmitMatch lowers a match over an enum into o_match_dispatch plus one
// labeled block per arm: the scrutinee's variant id indexes
// straight into the jump table, so dispatch is O(1) rather than a chain
// of equality checks. Exhaustiveness — every declared variant appears in
// arms exactly once — is checked before any code is emitted.
func (e *Emitter) EmitMatch(scrutinee Reg, enum *Class, arms []MatchArm) error {
	if err := checkMatchExhaustive(enum, arms); err != nil {
		e.log.Warn("match rejected", zap.String("enum", enum.Name), zap.Error(err))
		return err
	}

	armLabels := make(map[int]ILabel, len(arms))
	for _, arm := range arms {
		armLabels[arm.VariantID] = NewILabel()
	}
	targets := make([]ILabel, len(enum.Variants))
	for i, v := range enum.Variants {
		targets[i] = armLabels[v.ID]
	}

	done := NewILabel()
	e.Program.Emit(IMatchDispatch{Scrutinee: scrutinee, EnumID: enum.ID, Targets: targets})
	for _, arm := range arms {
		e.Program.Emit(armLabels[arm.VariantID])
		arm.Emit(e)
		e.Program.Emit(IJump{Target: done})
	}
	e.Program.Emit(done)
	return nil
}

// checkMatchExhaustive verifies every variant the enum declares appears
// in arms exactly once, and that no arm names a variant the enum
// doesn't have.
func checkMatchExhaustive(enum *Class, arms []MatchArm) error {
	seen := make(map[int]int, len(arms))
	known := make(map[int]bool, len(enum.Variants))
	for _, v := range enum.Variants {
		known[v.ID] = true
	}
	for _, arm := range arms {
		if !known[arm.VariantID] {
			return fmt.Errorf("match over %s has an arm for unknown variant id %d", enum.Name, arm.VariantID)
		}
		seen[arm.VariantID]++
	}
	for _, v := range enum.Variants {
		switch seen[v.ID] {
		case 0:
			return fmt.Errorf("match over %s is not exhaustive: missing arm for variant %q", enum.Name, v.Name)
		case 1:
		default:
			return fmt.Errorf("match over %s has %d arms for variant %q, expected exactly one", enum.Name, seen[v.ID], v.Name)
		}
	}
	return nil
}

// EmitVariantDecompose binds a variant's fields straight into dsts:
// o_variant_decompose performs the whole destructuring in one opcode,
// so no trailing property-get writes are needed.
func (e *Emitter) EmitVariantDecompose(src Reg, dsts []Reg) {
	e.Program.Emit(IVariantDecompose{Src: src, Dsts: dsts})
}
