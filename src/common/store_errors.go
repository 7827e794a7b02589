package common

import "fmt"

// StoreErrType ...
type StoreErrType uint32

const (
	// KeyNotFound ...
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists ...
	KeyAlreadyExists
	// PassedVersion means the requested version was already pruned.
	PassedVersion
	// SkippedVersion means the write would leave a gap in the version
	// sequence.
	SkippedVersion
	// UnknownMember ...
	UnknownMember
	// Empty ...
	Empty
	// NoGenesis means the store holds no genesis snapshot.
	NoGenesis
)

// StoreErr ...
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case PassedVersion:
		m = "Passed Version"
	case SkippedVersion:
		m = "Skipped Version"
	case UnknownMember:
		m = "Unknown Member"
	case Empty:
		m = "Empty"
	case NoGenesis:
		m = "No Genesis"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that its code matches
// the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
