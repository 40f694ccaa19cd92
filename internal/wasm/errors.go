package wasm

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is checks across the typed errors below.
var (
	ErrMissingExport  = errors.New("missing export")
	ErrOutOfBounds    = errors.New("out of bounds")
	ErrNullAllocation = errors.New("allocator returned null address")
	ErrModuleExited   = errors.New("module exited")
	ErrReentrantCall  = errors.New("reentrant module call")
)

// CompilationError occurs when Wasm module compilation fails
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile Wasm module '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// InstantiationError occurs when module instantiation fails
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("failed to instantiate module '%s' (instance: %s): %v",
		e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// ModuleNotFoundError occurs when a module is not in cache
type ModuleNotFoundError struct {
	ModuleName string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module '%s' not found in cache", e.ModuleName)
}

// SourceError occurs when no module source could be loaded.
type SourceError struct {
	Sources []string
	Errs    []error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("no usable module source among %v: %v", e.Sources, errors.Join(e.Errs...))
}

func (e *SourceError) Unwrap() []error {
	return e.Errs
}

// FunctionNotFoundError occurs when an exported function is missing at call time
type FunctionNotFoundError struct {
	ModuleName   string
	FunctionName string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function '%s' not found in module '%s'",
		e.FunctionName, e.ModuleName)
}

func (e *FunctionNotFoundError) Is(target error) bool {
	return target == ErrMissingExport
}

// MissingExportError occurs when a required export is absent at instantiation.
// It is fatal: the host never calls into such a module.
type MissingExportError struct {
	ModuleName string
	Exports    []string
}

func (e *MissingExportError) Error() string {
	return fmt.Sprintf("module '%s' is missing required exports %v", e.ModuleName, e.Exports)
}

func (e *MissingExportError) Is(target error) bool {
	return target == ErrMissingExport
}

// MemoryAccessError occurs when memory operations fail
type MemoryAccessError struct {
	Operation  string
	Address    uint32
	Length     uint32
	MemorySize uint32
	Err        error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access failed (op=%s, addr=%d, len=%d, size=%d): %v",
		e.Operation, e.Address, e.Length, e.MemorySize, e.Err)
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

// HostFunctionError occurs when host function execution fails
type HostFunctionError struct {
	FunctionName string
	Err          error
}

func (e *HostFunctionError) Error() string {
	return fmt.Sprintf("host function '%s' failed: %v", e.FunctionName, e.Err)
}

func (e *HostFunctionError) Unwrap() error {
	return e.Err
}

// ExitError occurs when the module called proc_exit or was otherwise
// terminated. Every later call into the module fails with it.
type ExitError struct {
	ModuleName string
	ExitCode   uint32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("module '%s' exited with code %d", e.ModuleName, e.ExitCode)
}

func (e *ExitError) Is(target error) bool {
	return target == ErrModuleExited
}

// TimeoutError occurs when Wasm execution times out
type TimeoutError struct {
	Function string
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Wasm execution of '%s' timed out after %v", e.Function, e.Duration)
}
