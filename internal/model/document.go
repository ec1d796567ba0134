package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Document field names shared by every store backend.
const (
	FieldUID                = "uid"
	FieldEmail              = "email"
	FieldFullName           = "fullName"
	FieldRole               = "role"
	FieldDepartment         = "department"
	FieldStatus             = "status"
	FieldIsManager          = "isManager"
	FieldApprovedBy         = "approvedBy"
	FieldProgram            = "program"
	FieldSemester           = "semester"
	FieldSection            = "section"
	FieldSapID              = "sapId"
	FieldStudentID          = "studentId"
	FieldProfileImage       = "profileImage"
	FieldDarkMode           = "isDarkMode"
	FieldCreatedAt          = "createdAt"
	FieldTitle              = "title"
	FieldDate               = "date"
	FieldRegisteredStudents = "registeredStudents"
)

var ErrMissingDate = errors.New("event date missing or invalid")

// ProfileFromDocument decodes a users document, applying the defaults the
// console and resolver rely on when a field is absent.
func ProfileFromDocument(id string, data map[string]any) UserProfile {
	p := UserProfile{
		UID:          id,
		Email:        stringField(data, FieldEmail, ""),
		FullName:     stringField(data, FieldFullName, "Unknown"),
		Role:         Role(stringField(data, FieldRole, string(RoleStudent))),
		Department:   strings.TrimSpace(stringField(data, FieldDepartment, "")),
		Status:       Status(stringField(data, FieldStatus, "")),
		IsManager:    boolField(data, FieldIsManager, false),
		ApprovedBy:   stringField(data, FieldApprovedBy, "Unknown"),
		Program:      stringField(data, FieldProgram, "BS"),
		Semester:     stringField(data, FieldSemester, "1"),
		Section:      stringField(data, FieldSection, "A"),
		SapID:        stringField(data, FieldSapID, stringField(data, FieldStudentID, "N/A")),
		ProfileImage: stringField(data, FieldProfileImage, ""),
		DarkMode:     optionalBool(data, FieldDarkMode),
	}
	if ts, ok := timeValue(data[FieldCreatedAt]); ok {
		p.CreatedAt = ts
	}
	return p
}

func AdminFromDocument(id string, data map[string]any) AdminRecord {
	return AdminRecord{UID: id, DarkMode: optionalBool(data, FieldDarkMode)}
}

// EventFromDocument decodes an events document. The date is the only field
// without a usable default, so a document without one is rejected.
func EventFromDocument(id string, data map[string]any) (Event, error) {
	date, ok := timeValue(data[FieldDate])
	if !ok {
		return Event{}, fmt.Errorf("event %s: %w", id, ErrMissingDate)
	}
	return Event{
		ID:                 id,
		Title:              stringField(data, FieldTitle, "No Title"),
		Date:               date,
		RegisteredStudents: stringSlice(data[FieldRegisteredStudents]),
	}, nil
}

// EventDocument is the inverse of EventFromDocument.
func EventDocument(e Event) map[string]any {
	registered := e.RegisteredStudents
	if registered == nil {
		registered = []string{}
	}
	return map[string]any{
		FieldTitle:              e.Title,
		FieldDate:               e.Date.UTC(),
		FieldRegisteredStudents: registered,
	}
}

// OnboardingProfileDocument builds the users document created for a
// federated identity signing in for the first time.
func OnboardingProfileDocument(identity Identity, now time.Time) map[string]any {
	fullName := strings.TrimSpace(identity.DisplayName)
	if fullName == "" {
		fullName = "Student"
	}
	return map[string]any{
		FieldEmail:        identity.Email,
		FieldFullName:     fullName,
		FieldRole:         string(RoleStudent),
		FieldCreatedAt:    now.UTC(),
		FieldUID:          identity.UID,
		FieldStatus:       string(StatusOnboarding),
		FieldProfileImage: identity.PhotoURL,
	}
}

func stringField(data map[string]any, key, fallback string) string {
	switch v := data[key].(type) {
	case string:
		if v == "" {
			return fallback
		}
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fallback
	}
}

func boolField(data map[string]any, key string, fallback bool) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return fallback
}

func optionalBool(data map[string]any, key string) *bool {
	v, ok := data[key].(bool)
	if !ok {
		return nil
	}
	return &v
}

func stringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

// timeValue accepts the timestamp encodings produced by the store backends:
// native times, RFC 3339 strings (JSONB) and unix milliseconds.
func timeValue(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), !v.IsZero()
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return v.UTC(), !v.IsZero()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	case int64:
		return time.UnixMilli(v).UTC(), true
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	default:
		return time.Time{}, false
	}
}
