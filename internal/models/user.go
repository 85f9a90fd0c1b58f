package models

// User is a workspace member as reported by the identity service.
type User struct {
	ID       string `json:"_id"`
	UserName string `json:"user_name"`
	ImageURL string `json:"image_url"`
	Email    string `json:"email,omitempty"`
}

// Room is the directory entry of a channel or direct-message room.
type Room struct {
	ID       string `json:"room_id"`
	Name     string `json:"room_name"`
	Category string `json:"category,omitempty"`
}
