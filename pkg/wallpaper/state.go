package wallpaper

// UploadState is the lifecycle state of a wallpaper row.
//
// Transitions are linear (initiated → uploading → stored → processing →
// completed) with failed as a terminal escape from uploading. Rows in
// initiated may only be deleted, never advanced past uploading directly.
type UploadState string

const (
	StateInitiated  UploadState = "initiated"
	StateUploading  UploadState = "uploading"
	StateStored     UploadState = "stored"
	StateProcessing UploadState = "processing"
	StateCompleted  UploadState = "completed"
	StateFailed     UploadState = "failed"
)

// States lists every member of the enumeration.
var States = []UploadState{
	StateInitiated,
	StateUploading,
	StateStored,
	StateProcessing,
	StateCompleted,
	StateFailed,
}

// SuccessStates are the states participating in the (userId, contentHash)
// deduplication anchor.
var SuccessStates = []UploadState{StateStored, StateProcessing, StateCompleted}

// Valid reports whether s is a member of the enumeration.
func (s UploadState) Valid() bool {
	switch s {
	case StateInitiated, StateUploading, StateStored, StateProcessing, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s UploadState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Successful reports whether s is a deduplication-anchor state.
func (s UploadState) Successful() bool {
	switch s {
	case StateStored, StateProcessing, StateCompleted:
		return true
	}
	return false
}

func (s UploadState) String() string { return string(s) }

// CanTransition reports whether the state machine permits from → to.
// The only lateral move is → failed, and only from uploading: rows cannot
// fail once an object is durably stored.
func CanTransition(from, to UploadState) bool {
	switch from {
	case StateInitiated:
		return to == StateUploading
	case StateUploading:
		return to == StateStored || to == StateFailed
	case StateStored:
		return to == StateProcessing
	case StateProcessing:
		return to == StateCompleted
	default:
		return false
	}
}
