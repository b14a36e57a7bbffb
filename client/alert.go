package client

import "github.com/campushub/campushub/types"

// Style is the presentation of a transient alert.
type Style struct {
	Icon  string
	Color string
}

var styles = map[types.NotificationType]Style{
	types.NotificationTypeBadgeEarned:         {Icon: "🏅", Color: "yellow"},
	types.NotificationTypeAchievementUnlocked: {Icon: "🏆", Color: "magenta"},
	types.NotificationTypeLevelUp:             {Icon: "⬆", Color: "green"},
	types.NotificationTypeStreakMilestone:     {Icon: "🔥", Color: "red"},
	types.NotificationTypeXPGained:            {Icon: "✨", Color: "cyan"},
}

var defaultStyle = Style{Icon: "🔔", Color: "blue"}

// StyleFor returns the alert style of a notification type.
func StyleFor(t types.NotificationType) Style {
	if s, ok := styles[t]; ok {
		return s
	}
	return defaultStyle
}

// Alert is a transient, user-visible announcement of a pushed notification.
type Alert struct {
	Notification types.Notification
	Style        Style
}

// AlertFunc presents alerts. It is called from the client's read goroutine
// and should not block.
type AlertFunc func(Alert)
