package models

type NotificationType string

const (
	NotifyPost   NotificationType = "post"
	NotifyLike   NotificationType = "like"
	NotifyFollow NotificationType = "follow"
	NotifyChat   NotificationType = "chat"
)

// Notification is a transient toast pushed to the UI.
type Notification struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Type      NotificationType `json:"type"`
	UserName  string           `json:"userName"`
	Timestamp int64            `json:"timestamp"`
}

type Theme string

const (
	ThemeSanctuary Theme = "sanctuary"
	ThemeMidnight  Theme = "midnight"
	ThemeCyber     Theme = "cyber"
	ThemePaper     Theme = "paper"
)

// DefaultTheme is used when no preference is stored.
const DefaultTheme = ThemeSanctuary

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	switch t {
	case ThemeSanctuary, ThemeMidnight, ThemeCyber, ThemePaper:
		return true
	}
	return false
}
