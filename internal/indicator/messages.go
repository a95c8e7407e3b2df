package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	grips   []string
	neutral string
	rest    string
	active  string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			grips: []string{
				"Large Diameter",
				"Power Sphere",
				"Precision Sphere",
				"Medium Wrap",
				"Extended Index Finger",
				"Abducted Thumb",
			},
			neutral: "Neutral",
			rest:    "rest",
			active:  "grip",
		}
	}
}

// gripName returns the grip shown for a 1-based stimulus index. Indices past
// the grip list show the neutral pose.
func (m messages) gripName(n int) string {
	if n < 1 || n > len(m.grips) {
		return m.neutral
	}
	return m.grips[n-1]
}
