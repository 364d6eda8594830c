// Package variables holds the values a virtual user binds while running one
// iteration and expands {{name}} placeholders from them.
package variables

// Store defines the interface for variable storage.
type Store interface {
	// Set stores a variable with the given key and value.
	Set(key, value string)

	// Get retrieves a variable by key. Returns (value, true) if found,
	// or ("", false) if the key is not present.
	Get(key string) (string, bool)

	// GetAll returns a copy of all stored variables.
	GetAll() map[string]string

	// Clear removes all stored variables.
	Clear()
}

// MemoryStore is a simple map-based implementation of the Store interface.
// It is owned by a single virtual user and does not require mutex protection.
type MemoryStore struct {
	variables map[string]string
}

// NewStore creates and returns a new MemoryStore instance.
func NewStore() Store {
	return &MemoryStore{
		variables: make(map[string]string),
	}
}

func (m *MemoryStore) Set(key, value string) {
	m.variables[key] = value
}

func (m *MemoryStore) Get(key string) (string, bool) {
	value, ok := m.variables[key]
	return value, ok
}

func (m *MemoryStore) GetAll() map[string]string {
	result := make(map[string]string, len(m.variables))
	for key, value := range m.variables {
		result[key] = value
	}
	return result
}

// Clear removes all stored variables. Called at the start of every iteration
// so values never leak between iterations.
func (m *MemoryStore) Clear() {
	for key := range m.variables {
		delete(m.variables, key)
	}
}
