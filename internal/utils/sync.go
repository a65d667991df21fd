package utils

import (
	"sync"
)

// OptionalMutex is a mutex that can be switched off when the caller already guarantees exclusive
// access, such as a device queue that is externally synchronized
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}
