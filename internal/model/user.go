package model

import "time"

// User rows are owned by the identity service; the messaging core reads them
// only to validate participant ids and populate display fields.
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	AvatarURL  string    `json:"avatarUrl"`
	Headline   string    `json:"headline"`
	IsOnline   bool      `json:"isOnline"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UserPublic is the subset of User safe to embed in conversation and message
// payloads.
type UserPublic struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	AvatarURL  string    `json:"avatarUrl"`
	Headline   string    `json:"headline,omitempty"`
	IsOnline   bool      `json:"isOnline"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

func (u User) ToPublic() UserPublic {
	return UserPublic{
		ID:         u.ID,
		Username:   u.Username,
		AvatarURL:  u.AvatarURL,
		Headline:   u.Headline,
		IsOnline:   u.IsOnline,
		LastSeenAt: u.LastSeenAt,
	}
}
