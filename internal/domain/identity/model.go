package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Patient is the registration record the OPD queue refers to.
type Patient struct {
	ID        uuid.UUID  `json:"id"`
	UHID      string     `json:"uhid"`
	Name      string     `json:"name"`
	Gender    *string    `json:"gender,omitempty"`
	DOB       *time.Time `json:"dob,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Staff is a hospital user. Doctors are staff with the physician role.
type Staff struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	Department *string   `json:"department,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

const RolePhysician = "physician"

func (s *Staff) IsDoctor() bool {
	return s.Active && s.Role == RolePhysician
}
