package sheetcalc

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// SyncFunc is the implementation signature for synchronous primitives.
// Failure is signalled either by returning an error (normally a
// *CalcError) or by panicking with a *CalcError; the invoker treats both
// identically.
type SyncFunc func(ctx *Context, args []Primitive) (Primitive, error)

// CompleteFunc delivers an asynchronous primitive's result. It must be
// invoked exactly once; calls after the first (or after cancellation)
// are ignored.
type CompleteFunc func(result Primitive, err error)

// AsyncFunc is the implementation signature for asynchronous primitives.
// Errors must be delivered through complete, never by panicking past the
// invocation boundary.
type AsyncFunc func(ctx *Context, complete CompleteFunc, args []Primitive)

// Definition binds a primitive name to its implementation and compiled
// argument specification. Definitions are immutable after registration.
type Definition struct {
	Name  string
	Async bool

	// Volatile primitives must be recalculated on every pass regardless
	// of dependency changes; hosts use this for dirty tracking.
	Volatile bool

	spec    *ArgList
	syncFn  SyncFunc
	asyncFn AsyncFunc
}

// Registry maps case-insensitive primitive names to definitions. It is
// explicit injected state: construct one, register primitives during
// startup or extension loading, and pass it to the evaluator. No hidden
// globals, so tests get a fresh registry each.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry creates an empty primitive registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Define registers a synchronous primitive and returns a builder for
// declaring its argument specification. Re-registering a name replaces
// the previous definition atomically for subsequent lookups; in-flight
// invocations keep the definition they resolved.
func (r *Registry) Define(name string, fn SyncFunc) *Builder {
	def := &Definition{Name: name, syncFn: fn}
	r.defs[strings.ToUpper(name)] = def
	return &Builder{def: def}
}

// DefineAsync registers an asynchronous primitive: the implementation
// receives a leading completion callback.
func (r *Registry) DefineAsync(name string, fn AsyncFunc) *Builder {
	def := &Definition{Name: name, Async: true, asyncFn: fn}
	r.defs[strings.ToUpper(name)] = def
	return &Builder{def: def}
}

// Lookup finds a definition by case-insensitive name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	def, ok := r.defs[strings.ToUpper(name)]
	return def, ok
}

// Names returns the registered primitive names in sorted order.
func (r *Registry) Names() []string {
	names := maps.Keys(r.defs)
	slices.Sort(names)
	return names
}

// Builder declares the calling convention of a freshly defined
// primitive.
type Builder struct {
	def *Definition
}

// Args compiles and attaches the argument specification. Specification
// bugs are registration-time programmer errors, so Args panics on a spec
// that fails to compile (in the manner of regexp.MustCompile).
func (b *Builder) Args(args ...Arg) *Builder {
	spec, err := CompileArgs(args)
	if err != nil {
		panic(errors.Wrapf(err, "define %s", b.def.Name))
	}
	b.def.spec = spec
	return b
}

// Volatile marks the primitive for recalculation on every pass.
func (b *Builder) Volatile() *Builder {
	b.def.Volatile = true
	return b
}

// TaskState tracks an invocation through its lifecycle.
type TaskState uint8

const (
	TaskPending TaskState = iota
	TaskValidating
	TaskResolving
	TaskExecuting
	TaskCompleted
	TaskFailed
)

// Task is the future for one primitive invocation. The engine is
// cooperatively single threaded: a Task never runs work on another
// goroutine, it only carries a result that may be delivered later by an
// asynchronous primitive's completion callback.
type Task struct {
	state  TaskState
	done   chan struct{}
	once   sync.Once
	result Primitive
	err    *CalcError
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// State returns the invocation's current lifecycle state.
func (t *Task) State() TaskState {
	return t.state
}

// Done is closed when the task has completed or failed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the outcome. Valid only after Done is closed; a nil
// error means the scalar or *Matrix result stands.
func (t *Task) Result() (Primitive, *CalcError) {
	return t.result, t.err
}

// Cancel completes the task with an N/A error, dropping any later
// completion from the primitive. Used by hosts imposing an external
// deadline; the engine itself never cancels.
func (t *Task) Cancel() {
	t.fail(NewCalcError(ErrorCodeNA, "evaluation cancelled"))
}

func (t *Task) complete(result Primitive) {
	t.once.Do(func() {
		// a primitive may legitimately compute an error value; deliver
		// it through the failure channel like a returned error
		if ce := AsCalcError(result); ce != nil {
			t.state = TaskFailed
			t.err = ce
		} else {
			t.state = TaskCompleted
			t.result = result
		}
		close(t.done)
	})
}

func (t *Task) fail(calcErr *CalcError) {
	t.once.Do(func() {
		t.state = TaskFailed
		t.err = calcErr
		close(t.done)
	})
}

// Invoke runs the named primitive against raw, already-parsed arguments.
// The returned Task completes synchronously for synchronous primitives
// and whenever the completion callback fires for asynchronous ones.
//
// A cell-level failure (argument error, computation error, reference
// error) lands in the Task. The returned error is reserved for
// integration faults — above all an unknown primitive name, which is the
// external evaluator's bug, not user input.
func (r *Registry) Invoke(ctx *Context, name string, raw []Primitive) (*Task, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return nil, errors.Errorf("sheetcalc: unknown primitive %q", name)
	}

	task := newTask()

	// a primitive without an argument spec gets the raw, unvalidated
	// argument list and is treated as inherently asynchronous
	args := raw
	if def.spec != nil {
		task.state = TaskValidating
		validated, calcErr := def.spec.validate(ctx, raw, task)
		if calcErr != nil {
			task.fail(calcErr)
			return task, nil
		}
		args = validated
	}

	task.state = TaskExecuting
	if def.asyncFn != nil {
		def.asyncFn(ctx, func(result Primitive, err error) {
			deliver(task, result, err)
		}, args)
		return task, nil
	}
	r.runSync(task, def, ctx, args)
	return task, nil
}

// runSync executes a synchronous primitive body, converting a panicked
// *CalcError into the same failure a returned one produces. Other panics
// are implementation faults and propagate.
func (r *Registry) runSync(task *Task, def *Definition, ctx *Context, args []Primitive) {
	defer func() {
		if recovered := recover(); recovered != nil {
			if ce, ok := recovered.(*CalcError); ok {
				task.fail(ce)
				return
			}
			panic(recovered)
		}
	}()
	result, err := def.syncFn(ctx, args)
	deliver(task, result, err)
}

// deliver normalizes a primitive's (result, err) pair into the task
func deliver(task *Task, result Primitive, err error) {
	if err != nil {
		if ce := AsCalcError(err); ce != nil {
			task.fail(ce)
			return
		}
		task.fail(NewCalcError(ErrorCodeValue, err.Error()))
		return
	}
	task.complete(result)
}

// Call invokes a primitive and waits for its result, converting a failed
// task back into a *CalcError. Convenient for hosts that drive
// evaluation synchronously.
func (r *Registry) Call(ctx *Context, name string, raw []Primitive) (Primitive, error) {
	task, err := r.Invoke(ctx, name, raw)
	if err != nil {
		return nil, err
	}
	<-task.Done()
	result, calcErr := task.Result()
	if calcErr != nil {
		return nil, calcErr
	}
	return result, nil
}
