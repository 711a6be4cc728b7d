package db

// DatabaseProvider abstracts the low-level key-value operations so the stores
// work the same on LevelDB or Redis.
type DatabaseProvider interface {
	// Get retrieves a value by key; a missing key yields (nil, nil)
	Get(key []byte) ([]byte, error)

	// Put stores a key-value pair
	Put(key, value []byte) error

	// Delete removes a key-value pair
	Delete(key []byte) error

	// IteratePrefix visits every pair whose key starts with prefix.
	// The callback returns false to stop iteration.
	IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error

	// Close closes the database connection
	Close() error

	// Batch returns a new batch for atomic operations
	Batch() DatabaseBatch
}

// DatabaseBatch provides atomic batch operations
type DatabaseBatch interface {
	// Put adds a key-value pair to the batch
	Put(key, value []byte)

	// Delete adds a deletion to the batch
	Delete(key []byte)

	// Write commits all operations in the batch
	Write() error

	// Reset clears the batch
	Reset()

	// Close releases batch resources
	Close() error
}
