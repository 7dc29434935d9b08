package domain

// Role is the capacity in which an authenticated caller acts.
type Role string

const (
	RoleVolunteer Role = "volunteer"
	RoleOrganizer Role = "organizer"
	// RoleSystem is used by background jobs such as the event close sweeper.
	RoleSystem Role = "system"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleVolunteer, RoleOrganizer, RoleSystem:
		return true
	}
	return false
}

// Actor identifies who triggered a state change. Subject is the identity
// layer's subject claim; for volunteers it is their VolunteerID.
type Actor struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
}

// SystemActor is the actor recorded for transitions made by background jobs.
var SystemActor = Actor{Subject: "system", Role: RoleSystem}

func (a Actor) IsOrganizer() bool {
	return a.Role == RoleOrganizer || a.Role == RoleSystem
}

// CanActFor reports whether the actor may act on a volunteer's own records.
func (a Actor) CanActFor(volunteer VolunteerID) bool {
	if a.IsOrganizer() {
		return true
	}
	return a.Role == RoleVolunteer && a.Subject == volunteer.String()
}
