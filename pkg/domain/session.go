package domain

import "time"

// Privilege is the caller's role inside its organization.
type Privilege string

const (
	PrivilegeAdmin   Privilege = "ADMIN"
	PrivilegeMain    Privilege = "MAIN"
	PrivilegeManager Privilege = "MANAGER"
	PrivilegeMember  Privilege = "MEMBER"
)

// CanCreateSessions reports whether the privilege belongs to the creator set.
func (p Privilege) CanCreateSessions() bool {
	return p == PrivilegeAdmin || p == PrivilegeMain
}

// CommitIDs holds the generated record ids of a successful commit.
type CommitIDs struct {
	ProductID string `json:"productId"`
	TargetID  string `json:"targetId"`
}

// Session is the unit of in-flight workflow state.
//
// UserID, UserPrivilege and OrganizationGUID are captured at creation and never
// overwritten. ExpiresAt is a fixed deadline: later writes do not extend it.
type Session struct {
	SessionID        string        `json:"sessionId"`
	State            SessionState  `json:"state"`
	UserID           string        `json:"userId"`
	UserPrivilege    Privilege     `json:"userPrivilege"`
	OrganizationGUID string        `json:"organizationGuid"`
	ProductData      *ProductData  `json:"productData,omitempty"`
	TargetData       *TargetConfig `json:"targetData,omitempty"`
	CommitResult     *CommitIDs    `json:"commitResult,omitempty"`
	Errors           []string      `json:"errors,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	ExpiresAt        time.Time     `json:"expiresAt"`
	OperationID      string        `json:"operationId"`

	// Version is the optimistic concurrency stamp. It is advanced by every
	// successful save and must match the stored stamp for a save to succeed.
	Version int64 `json:"version"`
}

// NewSession builds an INITIATED session expiring ttl after now.
func NewSession(id, userID string, privilege Privilege, orgGUID, operationID string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		SessionID:        id,
		State:            StateInitiated,
		UserID:           userID,
		UserPrivilege:    privilege,
		OrganizationGUID: orgGUID,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(ttl),
		OperationID:      operationID,
	}
}

// IsExpired reports whether the session's deadline has passed at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RemainingTTL returns the time left until ExpiresAt, never negative.
func (s *Session) RemainingTTL(now time.Time) time.Duration {
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot returns a deep copy of the session.
func (s *Session) Snapshot() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.ProductData != nil {
		out.ProductData = s.ProductData.Clone()
	}
	if s.TargetData != nil {
		out.TargetData = s.TargetData.Clone()
	}
	if s.CommitResult != nil {
		ids := *s.CommitResult
		out.CommitResult = &ids
	}
	if s.Errors != nil {
		out.Errors = append([]string(nil), s.Errors...)
	}
	return &out
}
