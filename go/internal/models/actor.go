package models

// Actor identifies whoever is calling into the session: a player, the master, or the server itself.
type Actor struct {
	ID    string `json:"id"`
	Nick  string `json:"nick"`
	Email string `json:"email"`
}

// IsZero reports whether no identity was supplied.
func (a Actor) IsZero() bool {
	return a.ID == "" && a.Nick == "" && a.Email == ""
}
