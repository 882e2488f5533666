package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invoicehub/internal/docstore"
	"invoicehub/internal/mail"

	"github.com/google/uuid"
)

type identityService struct {
	store     docstore.Store
	companies CompanyService
	mailer    mail.Sender
	clock     Clock
}

// NewIdentityService constructs an IdentityService over the users and employees collections.
func NewIdentityService(store docstore.Store, companies CompanyService, mailer mail.Sender, clock Clock) IdentityService {
	if clock == nil {
		clock = time.Now
	}
	return &identityService{store: store, companies: companies, mailer: mailer, clock: clock}
}

func (s *identityService) Resolve(ctx context.Context, uid, email string) (*Principal, error) {
	u, err := load[User](ctx, s.store, CollUsers, uid)
	if err == nil {
		return &Principal{UserID: uid, Email: u.Email, Role: u.Role, CompanyID: u.CompanyID}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	employees, err := list[Employee](ctx, s.store, CollEmployees, docstore.Where("email", email))
	if err != nil {
		return nil, err
	}
	if len(employees) == 0 {
		return nil, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	emp := employees[0]
	if emp.Status == EmployeeInvited {
		if err := s.store.Update(ctx, CollEmployees, emp.ID, docstore.Fields{"status": EmployeeActive}); err != nil {
			return nil, fmt.Errorf("failed to activate employee %s: %w", emp.ID, err)
		}
	}
	role := emp.Role
	if role == "" {
		role = RoleEmployee
	}
	return &Principal{UserID: uid, Email: email, Role: role, CompanyID: emp.CompanyID}, nil
}

func (s *identityService) InviteEmployee(ctx context.Context, p *Principal, in InviteInput) (*Employee, error) {
	if !p.IsAdmin() {
		return nil, fmt.Errorf("invite employee: %w", ErrForbidden)
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, invalid("email", "must be a valid address")
	}
	if strings.TrimSpace(in.RegistrationURL) == "" {
		return nil, invalid("registrationUrl", "is required")
	}
	role := in.Role
	if role == "" {
		role = RoleEmployee
	}
	if role != RoleEmployee && role != RoleAdmin {
		return nil, invalid("role", "must be admin or employee")
	}

	company, err := s.companies.GetCompany(ctx, p.CompanyID)
	if err != nil {
		return nil, err
	}

	existing, err := list[Employee](ctx, s.store, CollEmployees, byCompany(p.CompanyID), docstore.Where("email", email))
	if err != nil {
		return nil, err
	}
	emp := Employee{
		ID:        uuid.NewString(),
		CompanyID: p.CompanyID,
		Name:      strings.TrimSpace(in.Name),
		Email:     email,
		Role:      role,
		Status:    EmployeeInvited,
		InvitedAt: s.clock().UTC(),
	}
	if len(existing) > 0 {
		if existing[0].Status == EmployeeActive {
			return nil, invalid("email", "already belongs to an active employee")
		}
		emp.ID = existing[0].ID
	}
	if err := s.store.Set(ctx, CollEmployees, emp.ID, emp); err != nil {
		return nil, fmt.Errorf("failed to save employee: %w", err)
	}

	if s.mailer != nil {
		err := s.mailer.SendEmployeeInvite(ctx, mail.Invite{
			EmployeeName:    emp.Name,
			Email:           emp.Email,
			CompanyName:     company.Name,
			RegistrationURL: in.RegistrationURL,
		})
		if err != nil {
			return &emp, fmt.Errorf("employee saved but invitation failed: %w", err)
		}
	}
	return &emp, nil
}

func (s *identityService) ListEmployees(ctx context.Context, companyID string) ([]Employee, error) {
	return list[Employee](ctx, s.store, CollEmployees, byCompany(companyID))
}
