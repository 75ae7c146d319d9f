package kernel

// ErrorKind classifies a kernel Error. Callers branch on the kind instead of
// on the message so that corrupt firmware data can be told apart from a
// legitimately missing item.
type ErrorKind uint8

// The list of supported error kinds.
const (
	// KindInvalidArgument indicates that the caller passed an unusable
	// reference or value.
	KindInvalidArgument ErrorKind = iota + 1

	// KindNullPointerArgument indicates that an address-typed argument was
	// zero.
	KindNullPointerArgument

	// KindArgumentOutOfBounds indicates that a caller-supplied index or
	// record lies outside its valid range.
	KindArgumentOutOfBounds

	// KindIllegalValue indicates that data read from firmware or hardware
	// violates an expected invariant.
	KindIllegalValue

	// KindNullPointerValue indicates that a value read during execution
	// that should never be absent (an address in a firmware table, a
	// controller register) is absent.
	KindNullPointerValue

	// KindValueOutOfBounds indicates that a computed value escaped its
	// valid range. The MADT record walker uses it to signal the end of the
	// record list.
	KindValueOutOfBounds

	// KindEmptyThing indicates that a collection expected to be non-empty
	// is empty.
	KindEmptyThing

	// KindNotFound indicates that a search completed without a match.
	KindNotFound

	// KindDuplicateThing indicates that a uniqueness invariant was
	// violated.
	KindDuplicateThing

	// KindTooManyThings indicates that a fixed-capacity collection would
	// overflow.
	KindTooManyThings
)

// String returns a short name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindNullPointerArgument:
		return "null pointer argument"
	case KindArgumentOutOfBounds:
		return "argument out of bounds"
	case KindIllegalValue:
		return "illegal value"
	case KindNullPointerValue:
		return "null pointer value"
	case KindValueOutOfBounds:
		return "value out of bounds"
	case KindEmptyThing:
		return "empty"
	case KindNotFound:
		return "not found"
	case KindDuplicateThing:
		return "duplicate"
	case KindTooManyThings:
		return "too many"
	default:
		return "unknown"
	}
}

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that the Go allocator is not available to us so we cannot use
// errors.New.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// Kind classifies the error.
	Kind ErrorKind
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
