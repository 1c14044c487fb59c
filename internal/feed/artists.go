package feed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/codec"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/graph"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
)

// CompareUsers orders by alias, case-insensitively.
func CompareUsers(a, b models.User) int {
	if c := cmp.Compare(models.AliasKey(a.Name), models.AliasKey(b.Name)); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// DecodeUser reads a registry record. Records without a name are not
// artists and are skipped.
func DecodeUser(key string, raw graph.Record, report func(string, error)) (models.User, bool) {
	name := codec.String(raw, "name")
	if name == "" {
		return models.User{}, false
	}
	following, err := codec.FromField[[]string](raw["following"]).Resolve([]string{})
	if err != nil {
		report("following", err)
	}
	followers, err := codec.FromField[[]string](raw["followers"]).Resolve([]string{})
	if err != nil {
		report("followers", err)
	}
	u := models.User{
		ID:        codec.String(raw, "id"),
		Name:      name,
		Avatar:    codec.String(raw, "avatar"),
		Role:      codec.String(raw, "role"),
		Bio:       codec.String(raw, "bio"),
		Following: nonNil(following),
		Followers: nonNil(followers),
		JoinedAt:  codec.Time(raw, "joinedAt"),
	}
	if _, ok := raw["avatarConfig"]; ok {
		cfg, err := codec.FromField[*models.AvatarConfig](raw["avatarConfig"]).Resolve(nil)
		if err != nil {
			report("avatarConfig", err)
		}
		u.AvatarConfig = cfg
	}
	if u.ID == "" {
		u.ID = "u-" + models.AliasKey(name)
	}
	return u, true
}

// EncodeUser flattens a profile, nesting sets and the avatar config as JSON.
func EncodeUser(u models.User) (graph.Record, error) {
	following, err := codec.Encode(nonNil(u.Following))
	if err != nil {
		return nil, err
	}
	followers, err := codec.Encode(nonNil(u.Followers))
	if err != nil {
		return nil, err
	}
	rec := graph.Record{
		"id":        u.ID,
		"name":      u.Name,
		"avatar":    u.Avatar,
		"role":      u.Role,
		"bio":       u.Bio,
		"following": following,
		"followers": followers,
		"joinedAt":  codec.FormatTime(u.JoinedAt),
	}
	if u.AvatarConfig != nil {
		cfg, err := codec.Encode(u.AvatarConfig)
		if err != nil {
			return nil, err
		}
		rec["avatarConfig"] = cfg
	}
	return rec, nil
}

var UserCodec = Codec[models.User]{
	Key:     func(u models.User) string { return models.AliasKey(u.Name) },
	Decode:  DecodeUser,
	Encode:  EncodeUser,
	Compare: CompareUsers,
}

// FollowGraph records follow relationships. The graph implementation is
// two independent writes; a transactional store can replace it.
type FollowGraph interface {
	EstablishFollow(ctx context.Context, follower, target string) <-chan error
}

// Artists is the public registry of claimed identities, keyed by alias.
type Artists struct {
	feed *Reconciler[models.User]
}

var _ FollowGraph = (*Artists)(nil)

func NewArtists(g *graph.Graph, soul string) *Artists {
	return &Artists{feed: NewReconciler("artists", g.Get(soul), UserCodec)}
}

func (a *Artists) Feed() *Reconciler[models.User] { return a.feed }

func (a *Artists) Start() error { return a.feed.Start() }
func (a *Artists) Close()       { a.feed.Close() }

// Register publishes a new profile, refusing an alias already in the store.
func (a *Artists) Register(ctx context.Context, u models.User) <-chan error {
	ch := make(chan error, 1)
	if _, taken, err := a.Fetch(ctx, u.Name); err != nil {
		ch <- fmt.Errorf("check alias %s: %w", u.Name, err)
		close(ch)
		return ch
	} else if taken {
		ch <- apperrors.ErrAliasTaken
		close(ch)
		return ch
	}
	return a.Save(ctx, u)
}

// UpdateProfile writes the editable profile fields of u and nothing else,
// so follow sets written elsewhere are kept.
func (a *Artists) UpdateProfile(ctx context.Context, u models.User) <-chan error {
	fields := graph.Record{
		"avatar": u.Avatar,
		"role":   u.Role,
		"bio":    u.Bio,
	}
	if u.AvatarConfig != nil {
		cfg, err := codec.Encode(u.AvatarConfig)
		if err != nil {
			ch := make(chan error, 1)
			ch <- fmt.Errorf("encode avatar config: %w", err)
			close(ch)
			return ch
		}
		fields["avatarConfig"] = cfg
	}
	return a.feed.WriteFields(ctx, models.AliasKey(u.Name), fields)
}

// Save publishes the profile under its alias.
func (a *Artists) Save(ctx context.Context, u models.User) <-chan error {
	return a.feed.Write(ctx, u)
}

// Lookup reads the cached profile for alias.
func (a *Artists) Lookup(alias string) (models.User, bool) {
	return a.feed.Get(models.AliasKey(alias))
}

// Fetch reads the profile from the store, for callers that cannot rely on
// the cache having caught up (e.g. right after sign-in).
func (a *Artists) Fetch(ctx context.Context, alias string) (models.User, bool, error) {
	rec, err := a.feed.node.Get(models.AliasKey(alias)).Once(ctx)
	if err != nil || rec == nil {
		return models.User{}, false, err
	}
	u, ok := DecodeUser(models.AliasKey(alias), rec, func(string, error) {})
	return u, ok, nil
}

// All lists every artist by alias.
func (a *Artists) All() []models.User {
	return a.feed.SnapshotSync()
}

// Search matches q as a case-insensitive substring of the alias, leaving
// out the searching user.
func (a *Artists) Search(q, exclude string) []models.User {
	q = strings.ToLower(strings.TrimSpace(q))
	excludeKey := models.AliasKey(exclude)
	var out []models.User
	for _, u := range a.feed.SnapshotSync() {
		key := models.AliasKey(u.Name)
		if key == excludeKey {
			continue
		}
		if q == "" || strings.Contains(key, q) {
			out = append(out, u)
		}
	}
	return out
}

// EstablishFollow adds target to follower's following set and follower to
// target's followers set. The two writes are independent and either may
// land without the other; the result joins both outcomes.
func (a *Artists) EstablishFollow(ctx context.Context, follower, target string) <-chan error {
	out := make(chan error, 1)
	if models.AliasKey(follower) == models.AliasKey(target) {
		out <- apperrors.InvalidArg("you cannot follow yourself")
		close(out)
		return out
	}

	acks := []<-chan error{
		a.addToSet(ctx, follower, "following", target),
		a.addToSet(ctx, target, "followers", follower),
	}
	go func() {
		var errs []error
		for _, ack := range acks {
			if err := <-ack; err != nil {
				errs = append(errs, err)
			}
		}
		out <- errors.Join(errs...)
		close(out)
	}()
	return out
}

func (a *Artists) addToSet(ctx context.Context, alias, field, member string) <-chan error {
	return a.feed.UpdateField(ctx, models.AliasKey(alias), field, func(raw any) (any, error) {
		set, _ := codec.FromField[[]string](raw).Resolve([]string{})
		if models.AliasKey(member) != "" {
			set = models.AddAlias(set, member)
		}
		return codec.Encode(nonNil(set))
	})
}
