package domain

// User is a remote participant owned by the presence directory.
type User struct {
	*Person
}

func NewUser(identity string, state State) *User {
	return &User{Person: NewPerson(identity, state)}
}

func (u *User) Kind() Kind { return KindUser }

// DirectChannel is the channel id u shares with identity.
func (u *User) DirectChannel(identity string) string {
	return DirectChannelID(identity, u.Identity())
}
