package binding

import (
	"encoding/binary"
	"fmt"

	"github.com/arpa2/pulley/internal/script"
)

// Node is one level of a dn, presented root-first (index 0 is the topmost
// ancestor, the last entry is the matched object's own rdn). Values carries
// the rdn's attribute=value pairs (possibly several, for multi-valued RDNs);
// Attrs is only populated on the final (object) node and carries its
// ordinary attributes.
type Node struct {
	Values map[string][]string
	Attrs  map[string][]string
}

// Execute walks a compiled program against a root-first dn, returning one
// binding map per successful fork (§4.3: "DONE: fork with current variable
// binding"). vars resolves each instruction's attribute-name operand back to
// the RDN/attribute it names (see varAsOperand in compiler.go). It exists
// for structural validation and tests; the change router's hot path uses
// BoundAttrs instead (see compiler.go).
func Execute(code []byte, dn []Node, vars *script.VarTable) ([]map[script.VarNum]script.Value, error) {
	var forks []map[script.VarNum]script.Value
	err := run(code, 0, dn, 0, vars, map[script.VarNum]script.Value{}, &forks)
	return forks, err
}

func run(code []byte, pc int, dn []Node, depth int, vars *script.VarTable, bound map[script.VarNum]script.Value, forks *[]map[script.VarNum]script.Value) error {
	for pc < len(code) {
		op, subj, multi := unpack(code[pc])
		pc++

		switch op {
		case OpDown:
			depth++
			if depth > len(dn) {
				return nil // ran past the dn's depth: no match on this branch
			}
			continue

		case OpObject:
			continue

		case OpDone:
			snap := make(map[script.VarNum]script.Value, len(bound))
			for k, v := range bound {
				snap[k] = v
			}
			*forks = append(*forks, snap)
			return nil

		case OpHave, OpCmp, OpBind:
			n := numOperands(op)
			operands := make([]int32, n)
			for i := 0; i < n; i++ {
				operands[i] = int32(binary.LittleEndian.Uint32(code[pc : pc+4]))
				pc += 4
			}

			if depth == 0 || depth > len(dn) {
				return fmt.Errorf("binding: instruction at pc %d references depth %d outside dn", pc, depth)
			}
			node := dn[depth-1]

			values := valuesFor(node, subj, operands[0], vars)
			if len(values) == 0 && multi == MultiOnce {
				return nil // required subject missing on this branch
			}

			switch op {
			case OpHave:
				if len(values) == 0 && multi != MultiMaybe && multi != MultiZeroPlus {
					return nil
				}
			case OpCmp:
				// comparison against a constant/variable is resolved by the
				// caller via the filter expression upstream; structurally we
				// treat presence as satisfying the branch.
				if len(values) == 0 {
					return nil
				}
			case OpBind:
				bindVar := script.VarNum(operands[1])
				if len(values) == 0 {
					if err := run(code, pc, dn, depth, vars, bound, forks); err != nil {
						return err
					}
					return nil
				}
				for _, v := range values {
					next := make(map[script.VarNum]script.Value, len(bound)+1)
					for k, vv := range bound {
						next[k] = vv
					}
					next[bindVar] = script.Value{Type: script.VarTypeString, Str: v}
					if err := run(code, pc, dn, depth, vars, next, forks); err != nil {
						return err
					}
				}
				return nil
			}
			continue

		default:
			return fmt.Errorf("binding: unknown opcode 0x%02x", op)
		}
	}
	return nil
}

func numOperands(op Opcode) int {
	switch op {
	case OpHave:
		return 1
	case OpCmp, OpBind:
		return 2
	default:
		return 0
	}
}

// valuesFor resolves an instruction's subject to the concrete values it
// matches against. ATTR/RDN subjects name one specific attribute (operand
// is its vartab VarKindAttrType entry, per binding.h's "V4, attr, O"); a DN
// subject (@var, DCList, Skip*) carries no
// attribute name and binds whatever values the level as a whole presents.
func valuesFor(n Node, subj Subject, nameOperand int32, vars *script.VarTable) []string {
	switch subj {
	case SubjAttr:
		return n.Attrs[attrName(nameOperand, vars)]
	case SubjRDN:
		return n.Values[attrName(nameOperand, vars)]
	case SubjDN:
		return flatten(n.Values)
	default:
		return nil
	}
}

// attrName looks up the RDN/attribute name a compiled instruction's operand
// names in the vartab it was compiled against.
func attrName(nameOperand int32, vars *script.VarTable) string {
	if vars == nil || nameOperand < 0 || int(nameOperand) >= vars.Count() {
		return ""
	}
	return vars.Get(script.VarNum(nameOperand)).Name
}

func flatten(m map[string][]string) []string {
	var out []string
	for _, vs := range m {
		out = append(out, vs...)
	}
	return out
}
