package google

// OAuth scopes requested at consent time.
//
// Both API scopes must be requested together: the mail page needs
// GmailReadonlyScope and the reminder feature needs CalendarScope. The
// scope checks in the auth and server packages compare against these
// literals, so they must match what the provider reports back verbatim.
const (
	// GmailReadonlyScope grants read-only access to the user's mailbox.
	GmailReadonlyScope = "https://www.googleapis.com/auth/gmail.readonly"

	// CalendarScope grants access to the user's calendars.
	CalendarScope = "https://www.googleapis.com/auth/calendar"
)

// BaseScopes are the OpenID Connect scopes required for basic sign-in.
var BaseScopes = []string{"openid", "email", "profile"}

// DefaultScopes is the full scope set the consent screen asks for.
var DefaultScopes = append(append([]string{}, BaseScopes...), CalendarScope, GmailReadonlyScope)
