package state

// versionEntry pairs a checkpoint id with the value live at that
// checkpoint.
type versionEntry[T any] struct {
	version uint32
	value   T
}

// VersionStack is a copy-on-write stack of checkpointed values, ported
// from libs/execution/src/monad/state3/version_stack.hpp. A transaction's
// call/create frames each push a checkpoint; Current gives a mutable
// reference to the top value, copying from the prior checkpoint on first
// touch at a new version; Accept folds the top checkpoint into its
// parent; Reject discards it.
type VersionStack[T any] struct {
	stack []versionEntry[T]
}

// NewVersionStack seeds the stack with value at version 0.
func NewVersionStack[T any](value T) *VersionStack[T] {
	return &VersionStack[T]{stack: []versionEntry[T]{{version: 0, value: value}}}
}

// Version returns the checkpoint id of the top of the stack.
func (s *VersionStack[T]) Version() uint32 {
	return s.stack[len(s.stack)-1].version
}

// Recent returns the top-of-stack value without regard to version.
func (s *VersionStack[T]) Recent() T {
	return s.stack[len(s.stack)-1].value
}

// Current returns a pointer to the value live at version, copying the
// top-of-stack value into a fresh entry if version is newer than
// anything on the stack yet (copy-on-write semantics).
func (s *VersionStack[T]) Current(version uint32) *T {
	top := &s.stack[len(s.stack)-1]
	if version > top.version {
		s.stack = append(s.stack, versionEntry[T]{version: version, value: top.value})
		top = &s.stack[len(s.stack)-1]
	}
	return &top.value
}

// Accept collapses the checkpoint at version into its parent: if the
// parent is exactly one version older, the parent's value is replaced by
// this checkpoint's and the frame is dropped; otherwise the top frame's
// own version number is simply lowered to absorb into the range the
// parent already covers.
func (s *VersionStack[T]) Accept(version uint32) {
	n := len(s.stack)
	if s.stack[n-1].version != version {
		return
	}
	if n > 1 && s.stack[n-2].version+1 == s.stack[n-1].version {
		s.stack[n-2].value = s.stack[n-1].value
		s.stack = s.stack[:n-1]
		return
	}
	s.stack[n-1].version = version - 1
}

// Reject discards the checkpoint at version if it's the top of the stack,
// and reports whether the stack is now empty (meaning the whole
// transaction, not just one frame, rolled back).
func (s *VersionStack[T]) Reject(version uint32) bool {
	n := len(s.stack)
	if s.stack[n-1].version == version {
		s.stack = s.stack[:n-1]
	}
	return len(s.stack) == 0
}
