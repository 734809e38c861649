package archive

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Memory implements Storage entirely in memory. It exists for tests: the
// sentinel predicate and the archiver run unchanged against it, and the
// FailNext hook injects failures at exact pipeline positions to exercise
// partial-failure recovery.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailNext, when non-nil, is consulted before every mutating operation.
	// Returning a non-nil error makes that operation fail. op is one of
	// "copy", "write", "delete".
	FailNext func(op, objectPath string) error
}

// NewMemory creates an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) failure(op, objectPath string) error {
	if m.FailNext == nil {
		return nil
	}
	return m.FailNext(op, objectPath)
}

// Exists reports whether an object is present.
func (m *Memory) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[objectPath]
	return ok, nil
}

// CopyIn reads the local file and stores its bytes under objectPath.
func (m *Memory) CopyIn(ctx context.Context, localPath, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.failure("copy", objectPath); err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectPath] = data
	return nil
}

// WriteAtomic stores data under objectPath. Map assignment is already atomic
// from the reader's perspective, matching the rename semantics of Local.
func (m *Memory) WriteAtomic(ctx context.Context, objectPath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.failure("write", objectPath); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectPath] = cp
	return nil
}

// Read returns the stored bytes for objectPath.
func (m *Memory) Read(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[objectPath]
	if !ok {
		return nil, ErrObjectNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List returns all object paths under the given prefix, sorted.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var objects []string
	for path := range m.objects {
		if strings.HasPrefix(path, prefix) {
			objects = append(objects, path)
		}
	}
	sort.Strings(objects)
	return objects, nil
}

// Delete removes an object. Idempotent.
func (m *Memory) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.failure("delete", objectPath); err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectPath)
	return nil
}

// Len returns the number of stored objects. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
