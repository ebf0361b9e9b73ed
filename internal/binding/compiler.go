package binding

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/arpa2/pulley/internal/script"
)

// ObjectMarker is the reserved pattern name a script uses to mark the
// transition from rdn-level pattern matching (one comma-group per directory
// level, consuming a DOWN) to attribute-level matching against the
// resolved object itself (§6.1's "@var" family, generalized here to a
// transition marker rather than the legacy compiler's schema-driven
// heuristic — see DESIGN.md).
const ObjectMarker = "@OBJECT"

// Compile turns a generator's left-hand pattern levels into bytecode plus
// the upstream filter expression string (§4.3). Levels are compiled in
// declared order: each ordinary level emits a DOWN followed by one
// RDN-subject instruction per '+'-joined fragment, until ObjectMarker is
// seen, after which levels emit ATTR-subject instructions with no DOWN.
func Compile(levels []script.PatternLevel, vars *script.VarTable) (code []byte, filter string, err error) {
	var buf []byte
	var filterParts []string
	objectAttrs := false

	emitOp := func(op Opcode, subj Subject, multi Multiplicity, operands ...int32) {
		buf = append(buf, pack(op, subj, multi))
		for _, o := range operands {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(o))
			buf = append(buf, b[:]...)
		}
	}

	for _, level := range levels {
		if isObjectMarker(level) {
			emitOp(OpObject, SubjNone, MultiOnce)
			objectAttrs = true
			continue
		}

		subj := SubjRDN
		if objectAttrs {
			subj = SubjAttr
		}
		if !objectAttrs {
			emitOp(OpDown, SubjNone, MultiOnce)
		}

		for _, frag := range level.Fragments {
			switch frag.Kind {
			case script.FragAttrCmp:
				if frag.ConstVar == script.BadVar {
					emitOp(OpHave, subj, MultiOnce, int32(varAsOperand(frag)))
				} else {
					emitOp(OpCmp, subj, MultiOnce, int32(varAsOperand(frag)), int32(frag.ConstVar))
					if filterTerm, ok := constantFilterTerm(vars, frag); ok {
						filterParts = append(filterParts, filterTerm)
					}
				}
			case script.FragAttrBind:
				emitOp(OpBind, subj, MultiOnce, int32(varAsOperand(frag)), int32(frag.BindVar))
			case script.FragAtVar:
				emitOp(OpBind, SubjDN, MultiOnce, varnumBad, int32(frag.BindVar))
			case script.FragDCList:
				emitOp(OpBind, SubjDN, MultiZeroPlus, varnumBad, int32(frag.BindVar))
			case script.FragSkipOneLevel:
				emitOp(OpBind, SubjDN, MultiOnce, varnumBad, int32(frag.BindVar))
			case script.FragSkipSubtree:
				emitOp(OpBind, SubjDN, MultiZeroPlus, varnumBad, int32(frag.BindVar))
			default:
				return nil, "", fmt.Errorf("binding: unknown fragment kind %d", frag.Kind)
			}
		}
	}

	emitOp(OpDone, SubjNone, MultiOnce)
	return buf, strings.Join(filterParts, ","), nil
}

// isObjectMarker reports whether level is the sentinel ObjectMarker level
// produced by the parser (a single fragment naming ObjectMarker with no
// variable of its own).
func isObjectMarker(level script.PatternLevel) bool {
	return len(level.Fragments) == 1 && level.Fragments[0].Attr == ObjectMarker
}

// varAsOperand returns the vartab operand naming a fragment's attribute,
// exactly as binding.h's worked examples show (e.g. "V4, attr, O"): the
// parser interns every RDN/attribute name it sees as a VarKindAttrType
// variable, and AttrVar is that variable's number.
func varAsOperand(frag script.PatternFragment) int32 {
	return int32(frag.AttrVar)
}

// constantFilterTerm renders one "attr=value" filter term for a CMP-against-
// constant fragment, stripping quotes from quoted string constants (§4.3).
func constantFilterTerm(vars *script.VarTable, frag script.PatternFragment) (string, bool) {
	if frag.ConstVar == script.BadVar {
		return "", false
	}
	v := vars.Get(frag.ConstVar)
	if v.Kind != script.VarKindConstant || v.Value == nil {
		return "", false
	}
	return fmt.Sprintf("%s=%s", frag.Attr, stringifyConstant(*v.Value)), true
}

func stringifyConstant(v script.Value) string {
	switch v.Type {
	case script.VarTypeString:
		return strings.Trim(v.Str, `"`)
	case script.VarTypeInteger:
		return fmt.Sprintf("%d", v.Int)
	case script.VarTypeFloat:
		return fmt.Sprintf("%g", v.Float)
	case script.VarTypeBlob:
		return fmt.Sprintf("%x", v.Blob)
	default:
		return ""
	}
}

// BoundAttr is one (attribute name -> variable) binding a generator's
// pattern makes directly against the upstream attribute map, in the order
// the change router needs for its cartesian-product expansion (§4.6 step 1-2).
type BoundAttr struct {
	Attr string
	Var  script.VarNum
}

// BoundAttrs extracts the attribute-to-variable bindings of a generator's
// pattern levels, in declared order. The upstream directory-client
// collaborator is responsible for presenting any dn-derived values (rdn
// components, DNS names from DCList, etc.) as ordinary entries of the
// attribute map it hands to add_entry, so the router never
// needs to walk a dn itself — see DESIGN.md.
func BoundAttrs(levels []script.PatternLevel) []BoundAttr {
	var out []BoundAttr
	for _, level := range levels {
		if isObjectMarker(level) {
			continue
		}
		for _, frag := range level.Fragments {
			switch frag.Kind {
			case script.FragAttrBind:
				out = append(out, BoundAttr{Attr: frag.Attr, Var: frag.BindVar})
			case script.FragAtVar, script.FragDCList, script.FragSkipOneLevel, script.FragSkipSubtree:
				out = append(out, BoundAttr{Attr: frag.Attr, Var: frag.BindVar})
			}
		}
	}
	return out
}
