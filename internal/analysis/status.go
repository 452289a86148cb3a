package analysis

// Status is the analysis lifecycle tag reported by the backend.
type Status string

const (
	StatusWaiting          Status = "waiting"
	StatusCreated          Status = "created"
	StatusUploaded         Status = "uploaded"
	StatusAnalyzing        Status = "analyzing"
	StatusIngredientsReady Status = "ingredients_ready"
	StatusDone             Status = "done"
	StatusError            Status = "error"

	// StatusLoading is client-only, used while a history entry is replayed.
	StatusLoading Status = "loading"
)

// ParseStatus maps a backend status string to a Status. Unknown values are
// kept verbatim; an empty string means the backend has nothing yet.
func ParseStatus(raw string) Status {
	if raw == "" {
		return StatusWaiting
	}
	return Status(raw)
}

// Known reports whether s is one of the statuses the client understands.
func (s Status) Known() bool {
	switch s {
	case StatusWaiting, StatusCreated, StatusUploaded, StatusAnalyzing,
		StatusIngredientsReady, StatusDone, StatusError, StatusLoading:
		return true
	}
	return false
}

// InProgress reports whether the backend has received images and is working on them.
func (s Status) InProgress() bool {
	return s == StatusUploaded || s == StatusAnalyzing || s == StatusIngredientsReady
}

func (s Status) String() string {
	return string(s)
}
