package core

// AtomStatus 原子任务状态，每个生命周期内只会 Pending -> Running -> 终态 各走一次
type AtomStatus string

const (
	AtomPending   AtomStatus = "PENDING"
	AtomRunning   AtomStatus = "RUNNING"
	AtomWarning   AtomStatus = "WARNING"
	AtomCompleted AtomStatus = "COMPLETED"
	AtomFailed    AtomStatus = "FAILED"
)

func (s AtomStatus) IsTerminal() bool {
	switch s {
	case AtomWarning, AtomCompleted, AtomFailed:
		return true
	default:
		return false
	}
}

func (s AtomStatus) String() string {
	return string(s)
}
