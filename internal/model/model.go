// Package model holds the typed records behind the admin, users and events
// collections, and converts them to and from schemaless store documents.
package model

import "time"

const (
	CollectionAdmin  = "admin"
	CollectionUsers  = "users"
	CollectionEvents = "events"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
	RoleGuard   Role = "guard"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusOnboarding Status = "onboarding"
)

// Identity is the principal returned by the identity provider. It exists
// independently of any profile document.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	DisplayName   string
	PhotoURL      string
}

type UserProfile struct {
	UID          string    `json:"uid" firestore:"uid"`
	Email        string    `json:"email" firestore:"email"`
	FullName     string    `json:"fullName" firestore:"fullName"`
	Role         Role      `json:"role" firestore:"role"`
	Department   string    `json:"department" firestore:"department"`
	Status       Status    `json:"status" firestore:"status"`
	IsManager    bool      `json:"isManager" firestore:"isManager"`
	ApprovedBy   string    `json:"approvedBy" firestore:"approvedBy"`
	Program      string    `json:"program" firestore:"program"`
	Semester     string    `json:"semester" firestore:"semester"`
	Section      string    `json:"section" firestore:"section"`
	SapID        string    `json:"sapId" firestore:"sapId"`
	ProfileImage string    `json:"profileImage,omitempty" firestore:"profileImage"`
	DarkMode     *bool     `json:"isDarkMode,omitempty" firestore:"isDarkMode"`
	CreatedAt    time.Time `json:"createdAt,omitempty" firestore:"createdAt"`
}

type AdminRecord struct {
	UID      string `json:"uid" firestore:"uid"`
	DarkMode *bool  `json:"isDarkMode,omitempty" firestore:"isDarkMode"`
}

type Event struct {
	ID                 string    `json:"id" firestore:"-"`
	Title              string    `json:"title" firestore:"title"`
	Date               time.Time `json:"date" firestore:"date"`
	RegisteredStudents []string  `json:"registeredStudents" firestore:"registeredStudents"`
}

// OpenAt reports whether the event is still upcoming at now. An event whose
// date equals now is already past.
func (e Event) OpenAt(now time.Time) bool {
	return e.Date.After(now)
}

// Preferences is per-session configuration established at login. It replaces
// the process-wide theme switch the mobile client used.
type Preferences struct {
	DarkMode *bool `json:"darkMode,omitempty"`
}
