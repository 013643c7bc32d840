package order

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"

	PriorityLow    = "LOW"
	PriorityNormal = "NORMAL"
	PriorityUrgent = "URGENT"

	TypeChestXRay = "CHEST_XRAY"
)

var validStatuses = map[string]bool{
	StatusPending: true, StatusInProgress: true, StatusCompleted: true, StatusCancelled: true,
}

var validPriorities = map[string]bool{
	PriorityLow: true, PriorityNormal: true, PriorityUrgent: true,
}

func ValidStatus(s string) bool { return validStatuses[s] }

// Order maps to the medical_orders table.
type Order struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	RequestedBy   *uuid.UUID `db:"requested_by" json:"requested_by,omitempty"`
	OrderType     string     `db:"order_type" json:"order_type"`
	Reason        string     `db:"reason" json:"reason"`
	ClinicalNotes *string    `db:"clinical_notes" json:"clinical_notes,omitempty"`
	Priority      string     `db:"priority" json:"priority"`
	Status        string     `db:"status" json:"status"`
	ScheduledDate *time.Time `db:"scheduled_date" json:"scheduled_date,omitempty"`
	CompletedDate *time.Time `db:"completed_date" json:"completed_date,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

func (o *Order) IsPending() bool   { return o.Status == StatusPending }
func (o *Order) IsCompleted() bool { return o.Status == StatusCompleted }
func (o *Order) IsCancelled() bool { return o.Status == StatusCancelled }

// ApplyStatus moves o to status and stamps the dates that go with it:
// IN_PROGRESS sets the scheduled date when missing, COMPLETED sets the
// completion date when missing, and PENDING clears the completion date.
func (o *Order) ApplyStatus(status string, now time.Time) {
	o.Status = status
	switch status {
	case StatusInProgress:
		if o.ScheduledDate == nil {
			t := now
			o.ScheduledDate = &t
		}
	case StatusCompleted:
		if o.CompletedDate == nil {
			t := now
			o.CompletedDate = &t
		}
	case StatusPending:
		o.CompletedDate = nil
	}
}
