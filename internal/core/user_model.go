package core

import "context"

// IdentityService maps authenticated principals onto tenants and manages employee invites.
type IdentityService interface {
	// Resolve looks up users/{uid}; if absent it falls back to an employee record with the
	// same email. An invited employee becomes active on first resolve.
	Resolve(ctx context.Context, uid, email string) (*Principal, error)

	// InviteEmployee records an invited employee and sends the invitation mail. The record
	// stays even if the mail fails; the error is returned so the caller can resend.
	InviteEmployee(ctx context.Context, p *Principal, in InviteInput) (*Employee, error)

	ListEmployees(ctx context.Context, companyID string) ([]Employee, error)
}

// InviteInput is the payload of an employee invitation.
type InviteInput struct {
	Name            string
	Email           string
	Role            string
	RegistrationURL string
}
