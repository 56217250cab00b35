// ABOUTME: Owner and admin authorization for operator commands
// ABOUTME: The owner is fixed by configuration; admins live in the DocumentStore

package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/2389/assistant-manager/internal/audit"
	"github.com/2389/assistant-manager/internal/store"
)

var (
	// ErrUnauthorized is returned when the caller is neither owner nor admin.
	ErrUnauthorized = errors.New("not authorized")

	// ErrForbidden is returned when an authorized caller lacks owner privilege.
	ErrForbidden = errors.New("only the owner can do that")

	// ErrAlreadyAdmin is returned when granting admin to an existing admin.
	ErrAlreadyAdmin = errors.New("user is already an admin")

	// ErrNotAdmin is returned when revoking admin from a non-admin.
	ErrNotAdmin = errors.New("user is not an admin")

	// ErrOwnerImmutable is returned when the owner id is granted or revoked.
	ErrOwnerImmutable = errors.New("the owner cannot be added or removed as admin")
)

// Control answers who may operate the control plane.
type Control struct {
	ownerID int64
	store   store.DocumentStore
	audit   *audit.Log
	logger  *slog.Logger
}

// New creates a Control. audit may be nil.
func New(ownerID int64, s store.DocumentStore, auditLog *audit.Log, logger *slog.Logger) *Control {
	if logger == nil {
		logger = slog.Default()
	}
	return &Control{
		ownerID: ownerID,
		store:   s,
		audit:   auditLog,
		logger:  logger.With("component", "access"),
	}
}

// OwnerID returns the configured owner.
func (c *Control) OwnerID() int64 {
	return c.ownerID
}

// IsOwner reports whether id is the configured owner.
func (c *Control) IsOwner(id int64) bool {
	return id != 0 && id == c.ownerID
}

// IsAuthorized reports whether id is the owner or an admin.
// A store failure denies access.
func (c *Control) IsAuthorized(ctx context.Context, id int64) bool {
	if c.IsOwner(id) {
		return true
	}
	if id == 0 {
		return false
	}
	ok, err := c.store.IsAdmin(ctx, id)
	if err != nil {
		c.logger.Error("admin lookup failed, denying", "user", id, "error", err)
		return false
	}
	return ok
}

// Authorize returns ErrUnauthorized unless id is the owner or an admin.
func (c *Control) Authorize(ctx context.Context, id int64) error {
	if !c.IsAuthorized(ctx, id) {
		return ErrUnauthorized
	}
	return nil
}

// GrantAdmin adds userID to the admin set. Only the owner may call it.
func (c *Control) GrantAdmin(ctx context.Context, actor, userID int64) error {
	if err := c.requireOwner(ctx, actor); err != nil {
		return err
	}
	if userID == c.ownerID {
		return ErrOwnerImmutable
	}

	err := c.store.AddAdmin(ctx, &store.Admin{UserID: userID, AddedBy: actor})
	if errors.Is(err, store.ErrDuplicate) {
		return ErrAlreadyAdmin
	}
	if err != nil {
		return fmt.Errorf("adding admin: %w", err)
	}

	c.record(ctx, audit.KindAdminAdd, actor, userID, "added admin "+strconv.FormatInt(userID, 10))
	return nil
}

// RevokeAdmin removes userID from the admin set. Only the owner may call it.
func (c *Control) RevokeAdmin(ctx context.Context, actor, userID int64) error {
	if err := c.requireOwner(ctx, actor); err != nil {
		return err
	}
	if userID == c.ownerID {
		return ErrOwnerImmutable
	}

	err := c.store.RemoveAdmin(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotAdmin
	}
	if err != nil {
		return fmt.Errorf("removing admin: %w", err)
	}

	c.record(ctx, audit.KindAdminRemove, actor, userID, "removed admin "+strconv.FormatInt(userID, 10))
	return nil
}

// Admins lists granted admins. Only the owner may call it.
func (c *Control) Admins(ctx context.Context, actor int64) ([]*store.Admin, error) {
	if err := c.requireOwner(ctx, actor); err != nil {
		return nil, err
	}
	admins, err := c.store.ListAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing admins: %w", err)
	}
	return admins, nil
}

func (c *Control) requireOwner(ctx context.Context, actor int64) error {
	if c.IsOwner(actor) {
		return nil
	}
	if c.IsAuthorized(ctx, actor) {
		return ErrForbidden
	}
	return ErrUnauthorized
}

func (c *Control) record(ctx context.Context, kind audit.Kind, actor, userID int64, desc string) {
	if c.audit == nil {
		return
	}
	c.audit.Append(ctx, audit.Record{
		Kind:        kind,
		Description: desc,
		ActorID:     actor,
		Detail:      map[string]any{"user_id": userID},
	})
}
