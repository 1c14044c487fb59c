package models

import (
	"strings"
	"time"
)

type PostType string

const (
	PostPhoto     PostType = "photo"
	PostVideo     PostType = "video"
	PostAudio     PostType = "audio"
	PostText      PostType = "text"
	PostTarget    PostType = "target"
	PostSticker   PostType = "sticker"
	PostVoiceover PostType = "voiceover"
)

type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityFollowing Visibility = "following"
)

// Comment is appended to a post's comment list.
type Comment struct {
	ID        string    `json:"id"`
	Author    User      `json:"author" validate:"-"`
	Text      string    `json:"text" validate:"required,max=1000"`
	CreatedAt time.Time `json:"createdAt"`
}

// Post is a published item in the global gallery.
type Post struct {
	ID         string     `json:"id" validate:"required"`
	Author     User       `json:"author" validate:"-"`
	Type       PostType   `json:"type" validate:"oneof=photo video audio text target sticker voiceover"`
	Visibility Visibility `json:"visibility" validate:"oneof=public following"`
	ImageURL   string     `json:"imageUrl,omitempty"`
	VideoURL   string     `json:"videoUrl,omitempty"`
	AudioURL   string     `json:"audioUrl,omitempty"`
	Caption    string     `json:"caption" validate:"max=2000"`
	Likes      int        `json:"likes" validate:"gte=0"`
	LikedBy    []string   `json:"likedBy"`
	Rating     int        `json:"rating" validate:"gte=1,lte=5"`
	Comments   []Comment  `json:"comments"`
	CreatedAt  time.Time  `json:"createdAt"`
	Deadline   *time.Time `json:"deadline,omitempty"` // Targets only
	Progress   *int       `json:"progress,omitempty"` // 0-100, targets only
}

// LikedByUser reports whether name is in LikedBy.
func (p *Post) LikedByUser(name string) bool {
	for _, n := range p.LikedBy {
		if n == name {
			return true
		}
	}
	return false
}

// Draft is what a user submits when publishing.
type Draft struct {
	Type       PostType   `json:"type" validate:"oneof=photo video audio text target sticker voiceover"`
	Visibility Visibility `json:"visibility" validate:"omitempty,oneof=public following"`
	Caption    string     `json:"caption" validate:"max=2000"`
	ImageURL   string     `json:"imageUrl,omitempty"`
	VideoURL   string     `json:"videoUrl,omitempty"`
	AudioURL   string     `json:"audioUrl,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty" validate:"required_if=Type target"`
}

// Normalize fills defaults and trims input.
func (d *Draft) Normalize() {
	d.Caption = strings.TrimSpace(d.Caption)
	if d.Visibility == "" {
		d.Visibility = VisibilityPublic
	}
	if d.Type != PostTarget {
		d.Deadline = nil
	}
}
