package poll

import "strings"

// Principal is the opaque identity the external Authorizer supplies.
// The core never inspects credential material, only these three fields.
type Principal struct {
	UserID   *string
	OrgID    *string
	DeviceID *string
}

// ConsumerKey builds the deterministic composite identity under which
// per-subscription state is kept: two polls share a Consumer Key iff
// they represent the same logical subscription.
func (p Principal) ConsumerKey(topic string) string {
	var b strings.Builder
	b.WriteString(topic)
	b.WriteString("|user:")
	b.WriteString(orNone(p.UserID))
	b.WriteByte('|')
	b.WriteString(orNone(p.OrgID))
	b.WriteByte('|')
	b.WriteString(orNone(p.DeviceID))
	return b.String()
}

func orNone(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}
