package models

// Reaction is the aggregate of one emoji reaction on a message.
// Count always equals len(UserIDs).
type Reaction struct {
	Name    string   `json:"name"`
	Glyph   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"reactedUsersId"`
}

// HasUser reports whether userID takes part in the reaction.
func (r Reaction) HasUser(userID string) bool {
	for _, id := range r.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// CloneReactions deep-copies a reaction list.
func CloneReactions(in []Reaction) []Reaction {
	if in == nil {
		return nil
	}
	out := make([]Reaction, len(in))
	for i, r := range in {
		out[i] = r
		out[i].UserIDs = append([]string(nil), r.UserIDs...)
	}
	return out
}
