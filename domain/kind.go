package domain

// Kind names the variant of an augmentable entity.
// Plugins declare capabilities per Kind and only entities of that exact Kind receive them.
type Kind string

const (
	KindChat       Kind = "Chat"
	KindGlobalChat Kind = "GlobalChat"
	KindUser       Kind = "User"
	KindMe         Kind = "Me"
)

// Location is a middleware injection point.
type Location string

const (
	LocationPublish   Location = "publish"
	LocationBroadcast Location = "broadcast"
)

// Host is what a plugin capability factory sees of the entity it is attached to.
type Host interface {
	Identity() string
	Kind() Kind
}
