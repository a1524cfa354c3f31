package phone

import (
	"regexp"
	"strings"
)

// chatIDRe matches WhatsApp chat identifiers: digits@c.us or digits@s.whatsapp.net.
var chatIDRe = regexp.MustCompile(`^(\d+)(?:@s\.whatsapp\.net|@c\.us)$`)

// FromChatID extracts the phone number from a WhatsApp chat id.
func FromChatID(chatID string) (string, bool) {
	m := chatIDRe.FindStringSubmatch(strings.TrimSpace(chatID))
	if len(m) == 2 {
		return m[1], true
	}
	return "", false
}

// Normalize strips everything but digits from a phone number.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
