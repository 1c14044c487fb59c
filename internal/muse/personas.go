package muse

import (
	"time"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/feed"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
)

// Built-in AI peers a user can chat with.
var personas = []models.User{
	{ID: "ai-1", Name: "Lumi_AI", Role: "Vibe Architect", Avatar: feed.PersonaAvatarURL("Lumi")},
	{ID: "ai-2", Name: "Ink_Drift", Role: "Lyricist", Avatar: feed.PersonaAvatarURL("Ink")},
}

// Welcome is the first message of a user's default muse chat.
const Welcome = "Welcome to your private studio. I am your Muse. How can I help you manifest today?"

// Personas returns the AI peers stamped with joinedAt = now.
func Personas(now time.Time) []models.User {
	out := make([]models.User, len(personas))
	for i, p := range personas {
		p.JoinedAt = now
		out[i] = p
	}
	return out
}

// Persona looks a peer up by id.
func Persona(id string, now time.Time) (models.User, bool) {
	for _, p := range Personas(now) {
		if p.ID == id {
			return p, true
		}
	}
	return models.User{}, false
}
