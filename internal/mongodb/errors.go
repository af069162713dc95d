package mongodb

import "errors"

// Error kinds surfaced by the writer. Callers match them with errors.Is.
var (
	// ErrConfigUnset means host, database or collection was read while empty.
	ErrConfigUnset = errors.New("mongodb parameter unset")
	// ErrParametersFrozen means a setter ran after the pool started.
	ErrParametersFrozen = errors.New("mongodb parameters are frozen")
	// ErrStoreUnavailable means the writer never obtained a usable connection.
	ErrStoreUnavailable = errors.New("mongodb store unavailable")
	// ErrStoreWrite means the single-document insert failed.
	ErrStoreWrite = errors.New("mongodb insert failed")
	// ErrStreamIO means a replay stream could not be opened or read.
	ErrStreamIO = errors.New("replay stream i/o")
	// ErrTimestampParse means the fetch time could not be converted.
	// The writer recovers from it by omitting the field.
	ErrTimestampParse = errors.New("timestamp conversion failed")
)
