package feed

import (
	"net/url"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
)

const dicebear = "https://api.dicebear.com/7.x/"

// AvatarURL renders an avatar editor config into a seeded DiceBear URL.
// Parameters are sorted by name, so equal configs give equal URLs.
func AvatarURL(cfg *models.AvatarConfig, seed string) string {
	q := url.Values{}
	if cfg != nil {
		for k, v := range map[string]string{
			"top":         cfg.Top,
			"accessories": cfg.Accessories,
			"hairColor":   cfg.HairColor,
			"facialHair":  cfg.FacialHair,
			"clothing":    cfg.Clothing,
			"eyes":        cfg.Eyes,
			"eyebrows":    cfg.Eyebrows,
			"mouth":       cfg.Mouth,
			"skin":        cfg.Skin,
		} {
			if v != "" {
				q.Set(k, v)
			}
		}
	}
	u := dicebear + "avataaars/svg?seed=" + url.QueryEscape(seed)
	if len(q) > 0 {
		u += "&" + q.Encode()
	}
	return u
}

// DefaultAvatarURL is the avatar a new identity starts with.
func DefaultAvatarURL(seed string) string {
	return dicebear + "big-smile/svg?seed=" + url.QueryEscape(seed)
}

// PersonaAvatarURL is used for the AI personas.
func PersonaAvatarURL(seed string) string {
	return dicebear + "bottts-neutral/svg?seed=" + url.QueryEscape(seed)
}
