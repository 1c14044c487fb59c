package models

import (
	"strings"
	"time"
)

// AvatarConfig holds the avatar editor choices. Empty fields are omitted
// from the generated avatar URL.
type AvatarConfig struct {
	Top         string `json:"top,omitempty"`
	Accessories string `json:"accessories,omitempty"`
	HairColor   string `json:"hairColor,omitempty"`
	FacialHair  string `json:"facialHair,omitempty"`
	Clothing    string `json:"clothing,omitempty"`
	Eyes        string `json:"eyes,omitempty"`
	Eyebrows    string `json:"eyebrows,omitempty"`
	Mouth       string `json:"mouth,omitempty"`
	Skin        string `json:"skin,omitempty"`
}

// User is a claimed identity as published in the artist registry.
type User struct {
	ID           string        `json:"id" validate:"required"`
	Name         string        `json:"name" validate:"required,min=2,max=32"` // Alias, unique case-insensitively
	Avatar       string        `json:"avatar"`
	AvatarConfig *AvatarConfig `json:"avatarConfig,omitempty"`
	Role         string        `json:"role"`
	Bio          string        `json:"bio,omitempty" validate:"max=280"`
	Followers    []string      `json:"followers"` // Aliases
	Following    []string      `json:"following"` // Aliases
	JoinedAt     time.Time     `json:"joinedAt"`
}

// AliasKey is the registry key for an alias.
func AliasKey(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}

// Follows reports whether u follows alias.
func (u *User) Follows(alias string) bool {
	return containsAlias(u.Following, alias)
}

// FollowedBy reports whether alias follows u.
func (u *User) FollowedBy(alias string) bool {
	return containsAlias(u.Followers, alias)
}

// IsAI reports whether the user is one of the scripted AI personas.
func (u *User) IsAI() bool {
	return strings.HasPrefix(u.ID, "ai-")
}

func containsAlias(list []string, alias string) bool {
	key := AliasKey(alias)
	for _, a := range list {
		if AliasKey(a) == key {
			return true
		}
	}
	return false
}

// AddAlias returns list with alias appended unless already present.
func AddAlias(list []string, alias string) []string {
	if containsAlias(list, alias) {
		return list
	}
	return append(list, alias)
}
