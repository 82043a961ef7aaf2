package wasm

import "time"

// Observer receives runtime events. Implementations must be safe for
// concurrent use because instances may run on different goroutines.
type Observer interface {
	InstanceOpened(id, module string)
	InstanceClosed(id, module string)
	// InstanceTrapped fires once per instance, when it enters Trapped.
	InstanceTrapped(id string, reason TrapReason)
	CallFinished(export string, elapsed time.Duration, err error)
	HostCalled(function string, err error)
}

type nopObserver struct{}

func (nopObserver) InstanceOpened(string, string) {}
func (nopObserver) InstanceClosed(string, string) {}
func (nopObserver) InstanceTrapped(string, TrapReason) {}
func (nopObserver) CallFinished(string, time.Duration, error) {}
func (nopObserver) HostCalled(string, error) {}
