// Package mocks provides recording fakes of the AWS clients used across packages
package mocks

import (
	"sync"
	"time"
)

// CallTracker records calls made against a fake
type CallTracker[T any] struct {
	calls []T
	mutex sync.RWMutex
}

// NewCallTracker creates a new call tracker for the specified call type
func NewCallTracker[T any]() *CallTracker[T] {
	return &CallTracker[T]{
		calls: make([]T, 0),
	}
}

// RecordCall records a method call
func (ct *CallTracker[T]) RecordCall(call T) {
	ct.mutex.Lock()
	defer ct.mutex.Unlock()
	ct.calls = append(ct.calls, call)
}

// GetCalls returns all recorded calls
func (ct *CallTracker[T]) GetCalls() []T {
	ct.mutex.RLock()
	defer ct.mutex.RUnlock()
	calls := make([]T, len(ct.calls))
	copy(calls, ct.calls)
	return calls
}

// GetCallCount returns the number of recorded calls
func (ct *CallTracker[T]) GetCallCount() int {
	ct.mutex.RLock()
	defer ct.mutex.RUnlock()
	return len(ct.calls)
}

// FilterCalls returns calls that match the provided predicate function
func (ct *CallTracker[T]) FilterCalls(predicate func(T) bool) []T {
	ct.mutex.RLock()
	defer ct.mutex.RUnlock()

	var filtered []T
	for _, call := range ct.calls {
		if predicate(call) {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// Call is one recorded AWS API call
type Call struct {
	Method    string
	Timestamp time.Time
	Input     interface{}
	Error     error
}

// NewCall creates a Call stamped with the current time
func NewCall(method string, input interface{}, err error) Call {
	return Call{
		Method:    method,
		Timestamp: time.Now(),
		Input:     input,
		Error:     err,
	}
}

// Methods returns the method names of calls in order
func Methods(calls []Call) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Method
	}
	return names
}

// Faults injects per-method errors into a fake
type Faults struct {
	mu   sync.Mutex
	errs map[string]error
}

// FailOn makes every later call of method return err; a nil err clears it
func (f *Faults) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

func (f *Faults) failure(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[method]
}
