package patient

import (
	"time"

	"github.com/google/uuid"
)

const (
	GenderMale   = "M"
	GenderFemale = "F"
	GenderOther  = "O"
)

// Patient maps to the patients table.
type Patient struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	DNI            string     `db:"dni" json:"dni"`
	FirstName      string     `db:"first_name" json:"first_name"`
	LastName       string     `db:"last_name" json:"last_name"`
	DateOfBirth    time.Time  `db:"date_of_birth" json:"date_of_birth"`
	Gender         string     `db:"gender" json:"gender"`
	Phone          *string    `db:"phone" json:"phone,omitempty"`
	Email          *string    `db:"email" json:"email,omitempty"`
	Address        *string    `db:"address" json:"address,omitempty"`
	BloodType      *string    `db:"blood_type" json:"blood_type,omitempty"`
	Allergies      *string    `db:"allergies" json:"allergies,omitempty"`
	MedicalHistory *string    `db:"medical_history" json:"medical_history,omitempty"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	CreatedBy      *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`

	Age int `db:"-" json:"age"`
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// AgeAt returns completed years between dob and now.
func AgeAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}
