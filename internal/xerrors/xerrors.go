// Package xerrors carries call-site positions and stacks on errors so the
// logger can render error_links, plus the HTTPError value that request
// stages hand to the terminal error handler.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

type hasStack interface{ StackPCs() []uintptr }

type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// stack skips runtime.Callers and itself, then skip more frames
func stack(skip int) []uintptr {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func withStack(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: stack(skip + 1)}
}

// WithStack records the caller stack on err unconditionally.
func WithStack(err error) error { return withStack(err, 1) }

// EnsureTrace records a stack on err unless something in the chain already has one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs hasStack
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return withStack(err, 1)
}

type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error     { return w.err }
func (w *wrapped) PC() uintptr       { return w.pc }
func (w *wrapped) IsXerrorsWrapper() {}

func caller(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// Wrap annotates err with msg and the position of the caller.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: caller(1)}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: caller(1)}
}

func New(msg string) error             { return withStack(errors.New(msg), 1) }
func Newf(f string, args ...any) error { return withStack(fmt.Errorf(f, args...), 1) }
