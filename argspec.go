package sheetcalc

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Argument specifications are pure data, compiled once per registration
// into a pipeline of validator/coercer steps (never re-parsed per call).
//
// An Arg pairs a name with a specifier. Specifiers are:
//
//	basic string tags:
//	    "anything"  raw value, no dereferencing
//	    "anyvalue"  any resolved scalar
//	    "number"    numeric scalar ("number+" >= 0, "number++" > 0)
//	    "integer"   number truncated toward zero (same +/++ variants)
//	    "divisor"   non-zero number; zero fails with DIV/0, not VALUE
//	    "string", "boolean", "logical", "date", "datetime"
//	    "cell", "area", "ref"   reference tags, left unresolved
//	    "matrix"    range/literal/matrix coerced via Context.AsMatrix
//
//	compound []any forms, headed by a keyword:
//	    []any{"null", default}          matches only a missing argument
//	    []any{"not", spec}
//	    []any{"or", spec, ...}          first success wins
//	    []any{"and", spec, ...}         output of each feeds the next
//	    []any{"values", v, ...}         strict membership
//	    []any{"[between]", min, max}    bracket = inclusive bound,
//	    []any{"(between)", min, max}    paren = exclusive, independently
//	    []any{"[between)", min, max}    per side; "between" aliases
//	    []any{"(between]", min, max}    "[between]"
//	    []any{"assert", cond}           boolean condition over earlier
//	    []any{"assert", cond, code}     arguments via $name; fails with
//	                                    code (default "N/A")
//	    []any{"collect", spec}          consumes all remaining arguments,
//	                                    skipping mismatches, aborting on
//	                                    error values
//	    []any{"#collect", spec}         like collect but skips errors too
//
//	repetition groups: an Arg whose Spec is []Arg consumes remaining
//	arguments round-robin through its sub-slots; a group name ending in
//	"+" requires at least one repetition.
type Arg struct {
	Name string
	Spec any
}

// missing marks an argument slot with no raw value at the call site
type missing struct{}

var missingValue = missing{}

// frame is the per-call validation state
type frame struct {
	ctx   *Context
	named map[string]Primitive
	// name of the slot currently validating, so and-chains and asserts
	// can see the in-flight value under its own name
	currentName string
	// task, when set, mirrors reference resolution into the invocation
	// state machine
	task *Task
}

// resolve runs ResolveCells while flagging the invocation as suspended
// in reference resolution
func (f *frame) resolve(ref Reference) error {
	if f.task != nil {
		f.task.state = TaskResolving
		defer func() { f.task.state = TaskValidating }()
	}
	return f.ctx.ResolveCells(ref)
}

func (f *frame) bind(value Primitive) {
	if f.currentName != "" {
		f.named[f.currentName] = value
	}
}

// deref resolves a reference argument down to a single scalar. Multi-cell
// references where a scalar is required fail with VALUE; NullRef fails
// with REF. Non-references pass through. Error values propagate.
func (f *frame) deref(value Primitive) (Primitive, *CalcError) {
	if ref, ok := value.(Reference); ok {
		if ref.Kind() == RefKindNull {
			return nil, NewCalcError(ErrorCodeRef, "")
		}
		if ref.CellCount() != 1 {
			return nil, NewCalcError(ErrorCodeValue, "single value required")
		}
		if f.ctx == nil {
			return nil, NewCalcError(ErrorCodeRef, "no evaluation context")
		}
		if err := f.resolve(ref); err != nil {
			if ce := AsCalcError(err); ce != nil {
				return nil, ce
			}
			return nil, NewCalcError(ErrorCodeRef, err.Error())
		}
		for cell := range ref.Cells() {
			value = f.ctx.cellData(cell)
		}
	}
	if ce := AsCalcError(value); ce != nil {
		return nil, ce
	}
	return value, nil
}

// checkFunc validates and coerces one value, or reports the typed error
// that makes it unacceptable
type checkFunc func(f *frame, value Primitive) (Primitive, *CalcError)

// compiledSpec is one executable specifier step
type compiledSpec struct {
	check checkFunc
	// acceptsMissing marks specs containing a null-with-default branch;
	// slots carrying one are optional
	acceptsMissing bool
}

type slotKind uint8

const (
	slotPlain slotKind = iota
	slotCollect
	slotGroup
)

// slot is one declared argument position of a compiled ArgList
type slot struct {
	name string
	kind slotKind
	spec compiledSpec

	// collect slots
	ignoreErrors bool

	// group slots
	group       []*slot
	atLeastOnce bool
}

// ArgList is a compiled argument specification: an ordered list of
// validator/coercer steps ready to run against raw call-site arguments.
type ArgList struct {
	slots []*slot
}

// CompileArgs compiles a declarative argument specification. Errors
// (unknown tags, forward $name references, collect nested under
// compound specifiers, malformed groups) are aggregated so a bad spec
// reports every problem at once.
func CompileArgs(args []Arg) (*ArgList, error) {
	list := &ArgList{}
	declared := map[string]bool{}
	var errs error

	for _, arg := range args {
		if group, ok := arg.Spec.([]Arg); ok {
			compiled, err := compileGroup(arg.Name, group, declared)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			list.slots = append(list.slots, compiled)
			continue
		}

		declared[arg.Name] = true
		if head, inner, ok := collectForm(arg.Spec); ok {
			innerSpec, err := compileSpec(inner, arg.Name, declared)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			list.slots = append(list.slots, &slot{
				name:         arg.Name,
				kind:         slotCollect,
				spec:         innerSpec,
				ignoreErrors: head == "#collect",
			})
			continue
		}

		compiled, err := compileSpec(arg.Spec, arg.Name, declared)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		list.slots = append(list.slots, &slot{name: arg.Name, spec: compiled})
	}

	if errs != nil {
		return nil, errs
	}
	return list, nil
}

// collectForm recognizes a top-level collect / #collect specifier
func collectForm(spec any) (head string, inner any, ok bool) {
	parts, isList := spec.([]any)
	if !isList || len(parts) == 0 {
		return "", nil, false
	}
	head, isString := parts[0].(string)
	if !isString || (head != "collect" && head != "#collect") {
		return "", nil, false
	}
	if len(parts) == 1 {
		return head, "anyvalue", true
	}
	return head, parts[1], true
}

func compileGroup(name string, group []Arg, declared map[string]bool) (*slot, error) {
	if len(group) == 0 {
		return nil, errors.Errorf("argspec: group %q has no sub-slots", name)
	}
	compiled := &slot{
		name:        name,
		kind:        slotGroup,
		atLeastOnce: strings.HasSuffix(name, "+"),
	}
	var errs error
	for _, sub := range group {
		declared[sub.Name] = true
		if _, _, isCollect := collectForm(sub.Spec); isCollect {
			errs = multierr.Append(errs, errors.Errorf(
				"argspec: collect is not allowed inside group %q", name))
			continue
		}
		spec, err := compileSpec(sub.Spec, sub.Name, declared)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		compiled.group = append(compiled.group, &slot{name: sub.Name, spec: spec})
	}
	if errs != nil {
		return nil, errs
	}
	return compiled, nil
}

// compileSpec compiles a single specifier. declared carries every
// argument name visible to $name back-references (earlier slots plus the
// slot being compiled).
func compileSpec(spec any, slotName string, declared map[string]bool) (compiledSpec, error) {
	switch s := spec.(type) {
	case string:
		return compileTag(s)
	case []any:
		return compileCompound(s, slotName, declared)
	default:
		return compiledSpec{}, errors.Errorf("argspec: invalid specifier %v for %q", spec, slotName)
	}
}

func compileCompound(parts []any, slotName string, declared map[string]bool) (compiledSpec, error) {
	if len(parts) == 0 {
		return compiledSpec{}, errors.Errorf("argspec: empty specifier for %q", slotName)
	}
	head, ok := parts[0].(string)
	if !ok {
		return compiledSpec{}, errors.Errorf("argspec: specifier head must be a keyword, got %v", parts[0])
	}

	switch head {
	case "null":
		if len(parts) != 2 {
			return compiledSpec{}, errors.Errorf("argspec: null takes exactly one default for %q", slotName)
		}
		def := parts[1]
		return compiledSpec{
			acceptsMissing: true,
			check: func(f *frame, value Primitive) (Primitive, *CalcError) {
				if _, isMissing := value.(missing); isMissing {
					return def, nil
				}
				return nil, NewCalcError(ErrorCodeNA, "argument present")
			},
		}, nil

	case "not":
		if len(parts) != 2 {
			return compiledSpec{}, errors.Errorf("argspec: not takes exactly one specifier for %q", slotName)
		}
		if err := rejectNestedCollect(parts[1], "not", slotName); err != nil {
			return compiledSpec{}, err
		}
		inner, err := compileSpec(parts[1], slotName, declared)
		if err != nil {
			return compiledSpec{}, err
		}
		return compiledSpec{
			check: func(f *frame, value Primitive) (Primitive, *CalcError) {
				if _, calcErr := inner.check(f, value); calcErr == nil {
					return nil, NewCalcError(ErrorCodeValue, "")
				}
				return value, nil
			},
		}, nil

	case "or", "and":
		branches := make([]compiledSpec, 0, len(parts)-1)
		// a null branch anywhere makes the whole slot optional
		acceptsMissing := false
		for _, part := range parts[1:] {
			if err := rejectNestedCollect(part, head, slotName); err != nil {
				return compiledSpec{}, err
			}
			branch, err := compileSpec(part, slotName, declared)
			if err != nil {
				return compiledSpec{}, err
			}
			acceptsMissing = acceptsMissing || branch.acceptsMissing
			branches = append(branches, branch)
		}
		if head == "or" {
			return compiledSpec{
				acceptsMissing: acceptsMissing,
				check: func(f *frame, value Primitive) (Primitive, *CalcError) {
					var lastErr *CalcError
					for _, branch := range branches {
						coerced, calcErr := branch.check(f, value)
						if calcErr == nil {
							return coerced, nil
						}
						lastErr = calcErr
					}
					return nil, lastErr
				},
			}, nil
		}
		return compiledSpec{
			acceptsMissing: acceptsMissing,
			check: func(f *frame, value Primitive) (Primitive, *CalcError) {
				for _, branch := range branches {
					coerced, calcErr := branch.check(f, value)
					if calcErr != nil {
						return nil, calcErr
					}
					value = coerced
					f.bind(value)
				}
				return value, nil
			},
		}, nil

	case "values":
		allowed := append([]any(nil), parts[1:]...)
		return compiledSpec{
			check: func(f *frame, value Primitive) (Primitive, *CalcError) {
				resolved, calcErr := f.deref(value)
				if calcErr != nil {
					return nil, calcErr
				}
				for _, candidate := range allowed {
					if equalPrimitives(resolved, candidate) {
						return resolved, nil
					}
				}
				return nil, NewCalcError(ErrorCodeValue, "")
			},
		}, nil

	case "between", "[between]", "(between)", "[between)", "(between]":
		return compileBetween(head, parts, slotName)

	case "assert":
		return compileAssertSpec(parts, slotName, declared)

	case "collect", "#collect":
		return compiledSpec{}, errors.Errorf(
			"argspec: %s must be a top-level argument specifier (%q)", head, slotName)

	default:
		return compiledSpec{}, errors.Errorf("argspec: unknown specifier keyword %q for %q", head, slotName)
	}
}

func rejectNestedCollect(spec any, parent, slotName string) error {
	if head, _, ok := collectForm(spec); ok {
		return errors.Errorf("argspec: %s is not allowed inside %q (%q)", head, parent, slotName)
	}
	return nil
}

func compileBetween(head string, parts []any, slotName string) (compiledSpec, error) {
	if len(parts) != 3 {
		return compiledSpec{}, errors.Errorf("argspec: %s takes min and max for %q", head, slotName)
	}
	min, minOK := toNumber(parts[1])
	max, maxOK := toNumber(parts[2])
	if !minOK || !maxOK {
		return compiledSpec{}, errors.Errorf("argspec: %s bounds must be numeric for %q", head, slotName)
	}
	if head == "between" {
		head = "[between]"
	}
	minInclusive := head[0] == '['
	maxInclusive := head[len(head)-1] == ']'

	return compiledSpec{
		check: func(f *frame, value Primitive) (Primitive, *CalcError) {
			resolved, calcErr := f.deref(value)
			if calcErr != nil {
				return nil, calcErr
			}
			num, ok := toNumber(resolved)
			if !ok {
				return nil, NewCalcError(ErrorCodeValue, "")
			}
			if num < min || num > max ||
				(!minInclusive && num == min) ||
				(!maxInclusive && num == max) {
				return nil, NewCalcError(ErrorCodeNum, "")
			}
			return num, nil
		},
	}, nil
}

func compileAssertSpec(parts []any, slotName string, declared map[string]bool) (compiledSpec, error) {
	if len(parts) < 2 || len(parts) > 3 {
		return compiledSpec{}, errors.Errorf("argspec: assert takes a condition and an optional code for %q", slotName)
	}
	condition, ok := parts[1].(string)
	if !ok {
		return compiledSpec{}, errors.Errorf("argspec: assert condition must be a string for %q", slotName)
	}
	code := ErrorCodeNA
	if len(parts) == 3 {
		codeText, ok := parts[2].(string)
		if !ok {
			return compiledSpec{}, errors.Errorf("argspec: assert code must be a string for %q", slotName)
		}
		code = ErrorCode(codeText)
	}

	expr, err := compileAssert(condition)
	if err != nil {
		return compiledSpec{}, err
	}
	// $name may only reach arguments declared at or before this slot;
	// forward references are rejected here, at spec-compile time
	for _, ref := range expr.refs {
		if !declared[ref] && ref != slotName {
			return compiledSpec{}, errors.Errorf(
				"argspec: assert %q references undeclared argument $%s", condition, ref)
		}
	}

	return compiledSpec{
		check: func(f *frame, value Primitive) (Primitive, *CalcError) {
			f.bind(value)
			result, calcErr := expr.root.eval(func(name string) (Primitive, bool) {
				v, ok := f.named[name]
				return v, ok
			})
			if calcErr != nil {
				return nil, calcErr
			}
			if !isTruthy(result) {
				return nil, NewCalcError(code, "")
			}
			return value, nil
		},
	}, nil
}

// compileTag compiles a basic string tag, handling the "+" / "++"
// positivity suffixes on numeric tags.
func compileTag(tag string) (compiledSpec, error) {
	base := tag
	strictlyPositive := false
	nonNegative := false
	switch {
	case strings.HasSuffix(tag, "++"):
		base = tag[:len(tag)-2]
		strictlyPositive = true
	case strings.HasSuffix(tag, "+"):
		base = tag[:len(tag)-1]
		nonNegative = true
	}

	switch base {
	case "number", "integer", "divisor", "date", "datetime":
		truncate := base == "integer" || base == "date"
		divisor := base == "divisor"
		return compiledSpec{
			check: func(f *frame, value Primitive) (Primitive, *CalcError) {
				resolved, calcErr := f.deref(value)
				if calcErr != nil {
					return nil, calcErr
				}
				if resolved == nil {
					return nil, NewCalcError(ErrorCodeValue, "")
				}
				num, ok := toNumber(resolved)
				if !ok {
					return nil, NewCalcError(ErrorCodeValue, "")
				}
				if truncate {
					num = float64(int64(num))
				}
				if divisor && num == 0 {
					return nil, NewCalcError(ErrorCodeDiv0, "")
				}
				if strictlyPositive && num <= 0 {
					return nil, NewCalcError(ErrorCodeValue, "")
				}
				if nonNegative && num < 0 {
					return nil, NewCalcError(ErrorCodeValue, "")
				}
				return num, nil
			},
		}, nil
	}

	if strictlyPositive || nonNegative {
		return compiledSpec{}, errors.Errorf("argspec: %q does not take a positivity suffix", tag)
	}

	switch base {
	case "anything":
		return compiledSpec{check: func(f *frame, value Primitive) (Primitive, *CalcError) {
			if _, isMissing := value.(missing); isMissing {
				return nil, NewCalcError(ErrorCodeNA, "")
			}
			return value, nil
		}}, nil

	case "anyvalue":
		return compiledSpec{check: func(f *frame, value Primitive) (Primitive, *CalcError) {
			return f.deref(value)
		}}, nil

	case "string":
		return compiledSpec{check: func(f *frame, value Primitive) (Primitive, *CalcError) {
			resolved, calcErr := f.deref(value)
			if calcErr != nil {
				return nil, calcErr
			}
			switch v := resolved.(type) {
			case string:
				return v, nil
			case float64, bool:
				return toString(v), nil
			default:
				return nil, NewCalcError(ErrorCodeValue, "")
			}
		}}, nil

	case "boolean":
		return compiledSpec{check: func(f *frame, value Primitive) (Primitive, *CalcError) {
			resolved, calcErr := f.deref(value)
			if calcErr != nil {
				return nil, calcErr
			}
			if b, ok := resolved.(bool); ok {
				return b, nil
			}
			return nil, NewCalcError(ErrorCodeValue, "")
		}}, nil

	case "logical":
		return compiledSpec{check: func(f *frame, value Primitive) (Primitive, *CalcError) {
			resolved, calcErr := f.deref(value)
			if calcErr != nil {
				return nil, calcErr
			}
			switch v := resolved.(type) {
			case bool:
				return v, nil
			case float64:
				return v != 0, nil
			default:
				return nil, NewCalcError(ErrorCodeValue, "")
			}
		}}, nil

	case "cell":
		return compiledSpec{check: func(f *frame, value Primitive) (Primitive, *CalcError) {
			if cell, ok := value.(CellRef); ok {
				return cell, nil
			}
			return nil, NewCalcError(ErrorCodeValue, "")
		}}, nil

	case "area":
		return compiledSpec{check: func(f *frame, value Primitive) (Primitive, *CalcError) {
			switch value.(type) {
			case CellRef, RangeRef:
				return value, nil
			default:
				return nil, NewCalcError(ErrorCodeValue, "")
			}
		}}, nil

	case "ref":
		return compiledSpec{check: func(f *frame, value Primitive) (Primitive, *CalcError) {
			if ref, ok := value.(Reference); ok {
				return ref, nil
			}
			return nil, NewCalcError(ErrorCodeValue, "")
		}}, nil

	case "matrix":
		return compiledSpec{check: func(f *frame, value Primitive) (Primitive, *CalcError) {
			if f.ctx == nil {
				return nil, NewCalcError(ErrorCodeRef, "no evaluation context")
			}
			m, err := f.ctx.AsMatrix(value)
			if err != nil {
				if ce := AsCalcError(err); ce != nil {
					return nil, ce
				}
				return nil, NewCalcError(ErrorCodeValue, err.Error())
			}
			return m, nil
		}}, nil

	default:
		return compiledSpec{}, errors.Errorf("argspec: unknown type tag %q", tag)
	}
}

// Validate runs the compiled specification against raw call-site
// arguments, producing the validated/coerced argument list ready for
// invocation or the typed error that stops the call. Validation is
// strictly left to right and short-circuits on the first unrecoverable
// failure.
func (al *ArgList) Validate(ctx *Context, raw []Primitive) ([]Primitive, *CalcError) {
	return al.validate(ctx, raw, nil)
}

func (al *ArgList) validate(ctx *Context, raw []Primitive, task *Task) ([]Primitive, *CalcError) {
	f := &frame{ctx: ctx, named: make(map[string]Primitive), task: task}
	out := make([]Primitive, 0, len(raw))
	pos := 0

	for _, s := range al.slots {
		switch s.kind {
		case slotPlain:
			var value Primitive = missingValue
			if pos < len(raw) {
				value = raw[pos]
			}
			if _, isMissing := value.(missing); isMissing && !s.spec.acceptsMissing {
				return nil, NewCalcError(ErrorCodeNA, "too few arguments")
			}
			f.currentName = s.name
			coerced, calcErr := s.spec.check(f, value)
			f.currentName = ""
			if calcErr != nil {
				return nil, calcErr
			}
			if pos < len(raw) {
				pos++
			}
			f.named[s.name] = coerced
			out = append(out, coerced)

		case slotCollect:
			collected, calcErr := al.collect(f, s, raw[pos:])
			if calcErr != nil {
				return nil, calcErr
			}
			pos = len(raw)
			f.named[s.name] = collected
			out = append(out, collected)

		case slotGroup:
			rest := len(raw) - pos
			cycle := len(s.group)
			if s.atLeastOnce && rest == 0 {
				return nil, NewCalcError(ErrorCodeNA, "too few arguments")
			}
			if rest%cycle != 0 {
				return nil, NewCalcError(ErrorCodeNA, "incomplete argument group")
			}
			for rest > 0 {
				for _, sub := range s.group {
					f.currentName = sub.name
					coerced, calcErr := sub.spec.check(f, raw[pos])
					f.currentName = ""
					if calcErr != nil {
						return nil, calcErr
					}
					pos++
					rest--
					f.named[sub.name] = coerced
					out = append(out, coerced)
				}
			}
		}
	}

	if pos < len(raw) {
		return nil, NewCalcError(ErrorCodeNA, "too many arguments")
	}
	return out, nil
}

// collect consumes every remaining raw argument, expanding references
// and matrices to their element values and filtering by the inner
// specifier. A value failing the specifier is skipped; an element that is
// itself an error value aborts the call unless the slot ignores errors
// (#collect).
func (al *ArgList) collect(f *frame, s *slot, rest []Primitive) ([]Primitive, *CalcError) {
	collected := []Primitive{}
	consider := func(value Primitive) *CalcError {
		if ce := AsCalcError(value); ce != nil {
			if s.ignoreErrors {
				return nil
			}
			return ce
		}
		coerced, calcErr := s.spec.check(f, value)
		if calcErr != nil {
			// mismatches are filtered out, not fatal; error values
			// surfaced by dereferencing still abort
			if calcErr.Code == ErrorCodeCircular || (!s.ignoreErrors && calcErr.Code == ErrorCodeRef) {
				return calcErr
			}
			return nil
		}
		collected = append(collected, coerced)
		return nil
	}

	for _, arg := range rest {
		switch v := arg.(type) {
		case Reference:
			if v.Kind() == RefKindNull {
				if !s.ignoreErrors {
					return nil, NewCalcError(ErrorCodeRef, "")
				}
				continue
			}
			if f.ctx == nil {
				return nil, NewCalcError(ErrorCodeRef, "no evaluation context")
			}
			if err := f.resolve(v); err != nil {
				if ce := AsCalcError(err); ce != nil {
					return nil, ce
				}
				return nil, NewCalcError(ErrorCodeRef, err.Error())
			}
			for cell := range v.Cells() {
				if calcErr := consider(f.ctx.cellData(cell)); calcErr != nil {
					return nil, calcErr
				}
			}
		case *Matrix:
			var failure *CalcError
			v.Each(func(value Primitive, row, col int) {
				if failure == nil {
					failure = consider(value)
				}
			}, false)
			if failure != nil {
				return nil, failure
			}
		case []Primitive:
			for _, value := range v {
				if calcErr := consider(value); calcErr != nil {
					return nil, calcErr
				}
			}
		default:
			if calcErr := consider(arg); calcErr != nil {
				return nil, calcErr
			}
		}
	}
	return collected, nil
}
