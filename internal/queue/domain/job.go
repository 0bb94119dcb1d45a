package domain

import "time"

// Job is one scheduled unit of work against a subject
type Job struct {
	ID            string     `db:"id" json:"id"`
	Seq           int64      `db:"seq" json:"-"`
	Subject       string     `db:"subject" json:"subject"`
	Origin        string     `db:"origin" json:"origin"`
	Priority      Priority   `db:"priority" json:"priority"`
	Status        Status     `db:"status" json:"status"`
	Attempts      int        `db:"attempts" json:"attempts"`
	LastAttemptAt *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	Error         *string    `db:"error" json:"error,omitempty"`
	RequestID     *string    `db:"request_id" json:"request_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so callers never share pointers with a store
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.LastAttemptAt != nil {
		t := *j.LastAttemptAt
		cp.LastAttemptAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.RequestID != nil {
		r := *j.RequestID
		cp.RequestID = &r
	}
	return &cp
}

// RequestIDValue returns the request id or an empty string
func (j *Job) RequestIDValue() string {
	if j.RequestID == nil {
		return ""
	}
	return *j.RequestID
}

// ErrorValue returns the last failure description or an empty string
func (j *Job) ErrorValue() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}
