package domain

import "time"

// UserStatus is the presence state of a user.
type UserStatus string

const (
	UserOnline  UserStatus = "online"
	UserOffline UserStatus = "offline"
	UserAway    UserStatus = "away"
)

type Preferences struct {
	Theme         string `json:"theme"`
	Notifications bool   `json:"notifications"`
	SoundEnabled  bool   `json:"soundEnabled"`
}

// User is keyed by wallet address; usernames are unique.
type User struct {
	WalletAddress string      `json:"walletAddress"`
	Username      string      `json:"username"`
	CreatedAt     time.Time   `json:"createdAt"`
	LastActive    time.Time   `json:"lastActive"`
	Status        UserStatus  `json:"status"`
	Avatar        string      `json:"avatar,omitempty"`
	Preferences   Preferences `json:"preferences"`
}

// Role of a member inside a PAO.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Member is the membership record of a user in a room, keyed by
// (roomID, walletAddress).
type Member struct {
	RoomID        string     `json:"roomId"`
	WalletAddress string     `json:"walletAddress"`
	Username      string     `json:"username"`
	JoinedAt      time.Time  `json:"joinedAt"`
	Role          Role       `json:"role"`
	LastRead      *time.Time `json:"lastRead,omitempty"`
}
