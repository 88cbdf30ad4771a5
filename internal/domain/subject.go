package domain

import (
	"context"
	"errors"
)

// Subject is the verified caller identity carried by an access token.
type Subject struct {
	ID    string
	Email string
	Role  Role
}

// Role represents a caller's access level
type Role string

const (
	// RoleAdmin has full access to all operations
	RoleAdmin Role = "admin"

	// RoleOperator can submit and view transfers
	RoleOperator Role = "operator"

	// RoleReviewer resolves held transfers
	RoleReviewer Role = "reviewer"

	// RoleViewer can only view resources, no mutations
	RoleViewer Role = "viewer"
)

var validRoles = map[Role]bool{
	RoleAdmin:    true,
	RoleOperator: true,
	RoleReviewer: true,
	RoleViewer:   true,
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	return validRoles[r]
}

// CanTransfer checks if the role can submit transfers
func (r Role) CanTransfer() bool {
	return r == RoleAdmin || r == RoleOperator
}

// CanReview checks if the role can resolve held transfers
func (r Role) CanReview() bool {
	return r == RoleAdmin || r == RoleReviewer
}

// CanManageAccounts checks if the role can manage accounts
func (r Role) CanManageAccounts() bool {
	return r == RoleAdmin
}

// Authentication errors
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInsufficientRole = errors.New("insufficient role for this operation")
	ErrForbidden        = errors.New("account is not owned by the caller")
)

// CanDebit reports whether s may move money out of acc. Admins debit any
// account and operators also debit FUNDING accounts.
func (s *Subject) CanDebit(acc *Account) bool {
	switch {
	case s.Role == RoleAdmin:
		return true
	case s.Role == RoleOperator && acc.Type == AccountTypeFunding:
		return true
	}
	return s.ID != "" && acc.OwnerID == s.ID
}

// SeesAllAccounts reports whether account listings skip the owner filter.
func (s *Subject) SeesAllAccounts() bool {
	return s.Role == RoleAdmin
}

type subjectKey struct{}

// ContextWithSubject stores the verified subject in ctx.
func ContextWithSubject(ctx context.Context, s *Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, s)
}

// SubjectFromContext returns the verified subject, if any.
func SubjectFromContext(ctx context.Context) (*Subject, bool) {
	s, ok := ctx.Value(subjectKey{}).(*Subject)
	return s, ok && s != nil
}

type requestIDKey struct{}

// ContextWithRequestID stores the request id recorded in audit logs.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
