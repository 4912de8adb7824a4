package task

// Batch is a set of tasks the scheduler admits to run concurrently because
// their declared locks do not conflict (spec §4.C3).
type Batch struct {
	ID      int      `json:"id"`
	TaskIDs []string `json:"task_ids"`
	Locks   LockSet  `json:"locks"`
	Status  string   `json:"status"` // pending|running|merging|complete|conflict
}

const (
	BatchStatusPending  = "pending"
	BatchStatusRunning  = "running"
	BatchStatusMerging  = "merging"
	BatchStatusComplete = "complete"
	BatchStatusConflict = "conflict"
)
