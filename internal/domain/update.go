package domain

import "time"

// Operation names the command an Update records.
type Operation string

const (
	OpDeployStack          Operation = "DeployStack"
	OpDeployStackIfChanged Operation = "DeployStackIfChanged"
	OpPullStack            Operation = "PullStack"
	OpStartStack           Operation = "StartStack"
	OpRestartStack         Operation = "RestartStack"
	OpPauseStack           Operation = "PauseStack"
	OpUnpauseStack         Operation = "UnpauseStack"
	OpStopStack            Operation = "StopStack"
	OpDestroyStack         Operation = "DestroyStack"
	OpRefreshStackCache    Operation = "RefreshStackCache"
)

// UpdateStatus only ever advances: pending -> in_progress -> complete.
type UpdateStatus string

const (
	UpdateStatusPending    UpdateStatus = "pending"
	UpdateStatusInProgress UpdateStatus = "in_progress"
	UpdateStatusComplete   UpdateStatus = "complete"
)

// ResourceTarget identifies the resource an Update acts on.
type ResourceTarget struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Update is the append-only execution record of one command.
type Update struct {
	ID         string         `json:"id" db:"id"`
	Operation  Operation      `json:"operation" db:"operation"`
	Target     ResourceTarget `json:"target" db:"-"`
	OperatorID string         `json:"operator_id" db:"operator_id"`
	Status     UpdateStatus   `json:"status" db:"status"`
	Success    bool           `json:"success" db:"success"`
	Logs       []Log          `json:"logs" db:"-"`
	StartTs    time.Time      `json:"start_ts" db:"start_ts"`
	EndTs      *time.Time     `json:"end_ts,omitempty" db:"end_ts"`
}

// Log is one labeled entry of an Update.
type Log struct {
	Stage   string    `json:"stage"`
	Command string    `json:"command,omitempty"`
	Stdout  string    `json:"stdout,omitempty"`
	Stderr  string    `json:"stderr,omitempty"`
	Success bool      `json:"success"`
	StartTs time.Time `json:"start_ts"`
	EndTs   time.Time `json:"end_ts"`
}

// SimpleLog returns a successful log entry with msg as stdout.
func SimpleLog(stage, msg string) Log {
	now := time.Now()
	return Log{Stage: stage, Stdout: msg, Success: true, StartTs: now, EndTs: now}
}

// ErrorLog returns a failed log entry with msg as stderr.
func ErrorLog(stage, msg string) Log {
	now := time.Now()
	return Log{Stage: stage, Stderr: msg, Success: false, StartTs: now, EndTs: now}
}

// PushSimpleLog appends a successful log entry.
func (u *Update) PushSimpleLog(stage, msg string) {
	u.Logs = append(u.Logs, SimpleLog(stage, msg))
}

// PushErrorLog appends a failed log entry.
func (u *Update) PushErrorLog(stage, msg string) {
	u.Logs = append(u.Logs, ErrorLog(stage, msg))
}

// AllLogsSuccess reports whether every log entry succeeded.
func (u *Update) AllLogsSuccess() bool {
	for _, l := range u.Logs {
		if !l.Success {
			return false
		}
	}
	return true
}

// Finalized reports whether the Update has been sealed.
func (u *Update) Finalized() bool {
	return u.Status == UpdateStatusComplete
}

// Finalize seals the Update: success is derived from the logs.
func (u *Update) Finalize() {
	now := time.Now()
	u.Success = u.AllLogsSuccess()
	u.Status = UpdateStatusComplete
	u.EndTs = &now
}

// Clone returns a deep copy safe to hand to other goroutines.
func (u *Update) Clone() *Update {
	c := *u
	c.Logs = append([]Log(nil), u.Logs...)
	if u.EndTs != nil {
		end := *u.EndTs
		c.EndTs = &end
	}
	return &c
}

// UpdateListQuery filters ListUpdates.
type UpdateListQuery struct {
	TargetID string
	Limit    int
	Offset   int
}
