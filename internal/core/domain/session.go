package domain

import (
	"strings"
	"time"
)

// SessionIdleLifetime is how long a session stays usable without activity.
const SessionIdleLifetime = 30 * 24 * time.Hour

// UserSession tracks a refresh token issued to a device.
type UserSession struct {
	ID           string
	UserID       string
	SessionKey   string
	IPAddress    string
	UserAgent    string
	DeviceInfo   DeviceInfo
	IsActive     bool
	CreatedAt    time.Time
	LastActivity time.Time
	Country      string
	City         string
}

// IsExpired reports whether the session has been idle for longer than its lifetime.
func (s UserSession) IsExpired(at time.Time) bool {
	return at.After(s.LastActivity.Add(SessionIdleLifetime))
}

// DeviceInfo is a coarse classification of the client derived from its user agent.
type DeviceInfo struct {
	UserAgent string `json:"user_agent"`
	IsMobile  bool   `json:"is_mobile"`
	IsTablet  bool   `json:"is_tablet"`
	IsDesktop bool   `json:"is_desktop"`
	Browser   string `json:"browser"`
	OS        string `json:"os"`
}

// ParseDeviceInfo classifies a user agent string.
func ParseDeviceInfo(userAgent string) DeviceInfo {
	info := DeviceInfo{
		UserAgent: userAgent,
		IsDesktop: true,
		Browser:   "Unknown",
		OS:        "Unknown",
	}

	ua := strings.ToLower(userAgent)

	switch {
	case containsAny(ua, "mobile", "android", "iphone"):
		info.IsMobile = true
		info.IsDesktop = false
	case containsAny(ua, "tablet", "ipad"):
		info.IsTablet = true
		info.IsDesktop = false
	}

	// Edge and Chrome both advertise "chrome"; Chrome and Safari both advertise "safari".
	switch {
	case strings.Contains(ua, "edg"):
		info.Browser = "Edge"
	case strings.Contains(ua, "chrome"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "firefox"):
		info.Browser = "Firefox"
	case strings.Contains(ua, "safari"):
		info.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "windows"):
		info.OS = "Windows"
	case strings.Contains(ua, "android"):
		info.OS = "Android"
	case containsAny(ua, "iphone", "ipad", "ios"):
		info.OS = "iOS"
	case strings.Contains(ua, "mac"):
		info.OS = "macOS"
	case strings.Contains(ua, "linux"):
		info.OS = "Linux"
	}

	return info
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
