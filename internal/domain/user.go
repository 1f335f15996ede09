package domain

// User is the authenticated principal attached to a request.
// A nil *User means an anonymous caller.
type User struct {
	Username string
	Groups   []string
}

// IsAdmin reports whether the user belongs to the admin group.
func (u *User) IsAdmin() bool {
	if u == nil {
		return false
	}
	for _, g := range u.Groups {
		if g == "admin" {
			return true
		}
	}
	return false
}
