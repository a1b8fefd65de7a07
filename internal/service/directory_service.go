package service

import (
	"sort"

	"e2ee-relay/internal/dto"
	"e2ee-relay/internal/store"
)

// DirectoryService answers "who else is registered, and are they online",
// reading the credential store and a point-in-time presence snapshot.
type DirectoryService struct {
	creds    *store.CredentialStore
	presence *store.PresenceTable
}

func NewDirectoryService(creds *store.CredentialStore, presence *store.PresenceTable) *DirectoryService {
	return &DirectoryService{creds: creds, presence: presence}
}

// ListOthers returns every registered identity except the requester, sorted
// by username. The online flag is a snapshot, not a subscription.
func (d *DirectoryService) ListOthers(requester string) []dto.UserInfo {
	users := d.creds.All()
	out := make([]dto.UserInfo, 0, len(users))
	for _, u := range users {
		if u.Username == requester {
			continue
		}
		out = append(out, dto.UserInfo{
			Username:  u.Username,
			PublicKey: u.PublicKey,
			Online:    d.presence.Online(u.Username),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
