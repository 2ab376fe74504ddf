package models

// User is the platform identity as stored in the shared users table.
// This service only reads user rows; registration and profile editing
// belong to the user subsystem.
type User struct {
	ID        int    `db:"id" json:"id"`
	Username  string `db:"username" json:"username"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Image     string `db:"image" json:"image,omitempty"`
}

// OnlineUser is the shape broadcast in user_list_update events.
type OnlineUser struct {
	ID       int    `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
}
