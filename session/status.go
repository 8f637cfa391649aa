package session

// Status is the lifecycle state of the client session.
type Status int

const (
	Unauthenticated Status = iota
	Authenticating
	Authenticated
	Expired
)

func (s Status) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	}
	return "unknown"
}
