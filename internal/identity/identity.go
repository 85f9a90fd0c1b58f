// Package identity supplies the current user and the workspace roster.
package identity

import (
	"context"

	"message-sync/internal/models"
)

// Provider is the identity collaborator consumed by the cache. The cache never
// owns identities; it only reads them.
type Provider interface {
	CurrentUser(ctx context.Context) (models.User, error)
	WorkspaceUsers(ctx context.Context) ([]models.User, error)
}

// Static is a fixed Provider.
type Static struct {
	User  models.User
	Users []models.User
}

// CurrentUser returns the configured user.
func (s Static) CurrentUser(context.Context) (models.User, error) {
	return s.User, nil
}

// WorkspaceUsers returns the configured roster.
func (s Static) WorkspaceUsers(context.Context) ([]models.User, error) {
	out := make([]models.User, len(s.Users))
	copy(out, s.Users)
	return out, nil
}

// Roster is a read-only snapshot of workspace members keyed by id.
type Roster struct {
	users map[string]models.User
}

// NewRoster builds a snapshot from a member list.
func NewRoster(users []models.User) *Roster {
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		if u.ID != "" {
			byID[u.ID] = u
		}
	}
	return &Roster{users: byID}
}

// Resolve returns the display snapshot for senderID. Unknown senders keep only their id.
func (r *Roster) Resolve(senderID string) models.Sender {
	sender := models.Sender{SenderID: senderID}
	if r == nil {
		return sender
	}
	if u, ok := r.users[senderID]; ok {
		sender.SenderName = u.UserName
		sender.SenderImageURL = u.ImageURL
	}
	return sender
}

// Len returns the number of members in the snapshot.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.users)
}

// SenderFor builds the display snapshot of a known user.
func SenderFor(u models.User) models.Sender {
	return models.Sender{SenderID: u.ID, SenderName: u.UserName, SenderImageURL: u.ImageURL}
}
