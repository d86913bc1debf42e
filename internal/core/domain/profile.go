package domain

import "time"

const (
	DefaultLanguage   = "pt-br"
	DefaultTimezone   = "America/Sao_Paulo"
	MaxBioLength      = 500
	MaxLocationLength = 100
)

// ProfileVisibility controls who can see a profile.
type ProfileVisibility string

const (
	VisibilityPublic  ProfileVisibility = "public"
	VisibilityPrivate ProfileVisibility = "private"
	VisibilityFriends ProfileVisibility = "friends"
)

// Valid reports whether the visibility is known.
func (v ProfileVisibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityFriends:
		return true
	}
	return false
}

var supportedLanguages = map[string]struct{}{
	"pt-br": {},
	"en":    {},
	"es":    {},
}

// IsSupportedLanguage reports whether a profile may use the language code.
func IsSupportedLanguage(code string) bool {
	_, ok := supportedLanguages[code]
	return ok
}

// UserProfile holds the preferences kept 1:1 with a user.
type UserProfile struct {
	UserID             string
	Bio                string
	Location           string
	Website            string
	BirthDate          *time.Time
	Language           string
	Timezone           string
	EmailNotifications bool
	PushNotifications  bool
	MarketingEmails    bool
	Visibility         ProfileVisibility
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewDefaultProfile builds the profile created alongside a new account.
func NewDefaultProfile(userID string, at time.Time) UserProfile {
	return UserProfile{
		UserID:             userID,
		Language:           DefaultLanguage,
		Timezone:           DefaultTimezone,
		EmailNotifications: true,
		PushNotifications:  true,
		MarketingEmails:    false,
		Visibility:         VisibilityPublic,
		CreatedAt:          at,
		UpdatedAt:          at,
	}
}
