package cache

import (
	"strings"

	"message-sync/internal/models"
)

// findReaction returns the position of name in the list. Names compare
// case-insensitively.
func findReaction(reactions []models.Reaction, name string) int {
	for i, r := range reactions {
		if strings.EqualFold(r.Name, name) {
			return i
		}
	}
	return -1
}

func participates(reactions []models.Reaction, name, userID string) bool {
	i := findReaction(reactions, name)
	return i >= 0 && reactions[i].HasUser(userID)
}

// toggleReaction flips userID's participation in name and reports whether the
// user is now reacting.
func toggleReaction(reactions []models.Reaction, name, glyph, userID string) ([]models.Reaction, bool) {
	present := !participates(reactions, name, userID)
	return setReaction(reactions, name, glyph, userID, present), present
}

// setReaction returns a copy of reactions with userID's participation in name
// set to present. An entry whose last user leaves is removed; counts are
// recomputed from the user lists so no zero-count entry survives.
func setReaction(reactions []models.Reaction, name, glyph, userID string, present bool) []models.Reaction {
	out := models.CloneReactions(reactions)
	if out == nil {
		out = []models.Reaction{}
	}
	i := findReaction(out, name)

	if present {
		if i < 0 {
			return append(out, models.Reaction{Name: name, Glyph: glyph, Count: 1, UserIDs: []string{userID}})
		}
		if !out[i].HasUser(userID) {
			out[i].UserIDs = append(out[i].UserIDs, userID)
		}
		if out[i].Glyph == "" {
			out[i].Glyph = glyph
		}
		out[i].Count = len(out[i].UserIDs)
		return out
	}

	if i < 0 {
		return out
	}
	users := out[i].UserIDs[:0]
	for _, id := range out[i].UserIDs {
		if id != userID {
			users = append(users, id)
		}
	}
	if len(users) == 0 {
		return append(out[:i], out[i+1:]...)
	}
	out[i].UserIDs = users
	out[i].Count = len(users)
	return out
}

// normalizeReactions drops empty entries and fixes counts on records coming
// from the store or the push channel.
func normalizeReactions(reactions []models.Reaction) []models.Reaction {
	out := make([]models.Reaction, 0, len(reactions))
	for _, r := range reactions {
		if r.Name == "" {
			continue
		}
		seen := make(map[string]struct{}, len(r.UserIDs))
		users := make([]string, 0, len(r.UserIDs))
		for _, id := range r.UserIDs {
			if _, dup := seen[id]; dup || id == "" {
				continue
			}
			seen[id] = struct{}{}
			users = append(users, id)
		}
		if len(users) == 0 {
			continue
		}
		if j := findReaction(out, r.Name); j >= 0 {
			for _, id := range users {
				if !out[j].HasUser(id) {
					out[j].UserIDs = append(out[j].UserIDs, id)
				}
			}
			out[j].Count = len(out[j].UserIDs)
			continue
		}
		r.UserIDs = users
		r.Count = len(users)
		out = append(out, r)
	}
	return out
}
