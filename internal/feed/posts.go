package feed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/codec"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/graph"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
)

// ComparePosts orders newest first, then by id descending.
func ComparePosts(a, b models.Post) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// DecodePost reads a gallery record. Records without an id are skipped
// until the id field arrives.
func DecodePost(key string, raw graph.Record, report func(string, error)) (models.Post, bool) {
	id := codec.String(raw, "id")
	if id == "" {
		return models.Post{}, false
	}

	author, err := codec.FromField[models.User](raw["author"]).Resolve(models.User{})
	if err != nil {
		report("author", err)
	}
	comments, err := codec.FromField[[]models.Comment](raw["comments"]).Resolve([]models.Comment{})
	if err != nil {
		report("comments", err)
	}
	likedBy, err := codec.FromField[[]string](raw["likedBy"]).Resolve([]string{})
	if err != nil {
		report("likedBy", err)
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	if likedBy == nil {
		likedBy = []string{}
	}

	p := models.Post{
		ID:         id,
		Author:     author,
		Type:       models.PostType(codec.String(raw, "type")),
		Visibility: models.Visibility(codec.String(raw, "visibility")),
		ImageURL:   codec.String(raw, "imageUrl"),
		VideoURL:   codec.String(raw, "videoUrl"),
		AudioURL:   codec.String(raw, "audioUrl"),
		Caption:    codec.String(raw, "caption"),
		Likes:      max(0, codec.Int(raw, "likes", 0)),
		LikedBy:    likedBy,
		Rating:     min(5, max(1, codec.Int(raw, "rating", 5))),
		Comments:   comments,
		CreatedAt:  codec.Time(raw, "createdAt"),
	}
	if p.Type == "" {
		p.Type = models.PostPhoto
	}
	if p.Visibility != models.VisibilityFollowing {
		p.Visibility = models.VisibilityPublic
	}
	if d := codec.Time(raw, "deadline"); !d.IsZero() {
		p.Deadline = &d
	}
	if _, ok := raw["progress"]; ok {
		pr := min(100, max(0, codec.Int(raw, "progress", 0)))
		p.Progress = &pr
	}
	return p, true
}

// EncodePost flattens a post for the graph, nesting author, comments and
// likedBy as JSON text.
func EncodePost(p models.Post) (graph.Record, error) {
	author, err := codec.Encode(p.Author)
	if err != nil {
		return nil, fmt.Errorf("author: %w", err)
	}
	comments, err := codec.Encode(nonNil(p.Comments))
	if err != nil {
		return nil, fmt.Errorf("comments: %w", err)
	}
	likedBy, err := codec.Encode(nonNil(p.LikedBy))
	if err != nil {
		return nil, fmt.Errorf("likedBy: %w", err)
	}

	rec := graph.Record{
		"id":         p.ID,
		"author":     author,
		"type":       string(p.Type),
		"visibility": string(p.Visibility),
		"caption":    p.Caption,
		"likes":      p.Likes,
		"likedBy":    likedBy,
		"rating":     p.Rating,
		"comments":   comments,
		"createdAt":  codec.FormatTime(p.CreatedAt),
	}
	for field, v := range map[string]string{"imageUrl": p.ImageURL, "videoUrl": p.VideoURL, "audioUrl": p.AudioURL} {
		if v != "" {
			rec[field] = v
		}
	}
	if p.Deadline != nil {
		rec["deadline"] = codec.FormatTime(*p.Deadline)
	}
	if p.Progress != nil {
		rec["progress"] = *p.Progress
	}
	return rec, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// PostCodec wires posts into a Reconciler.
var PostCodec = Codec[models.Post]{
	Key:     func(p models.Post) string { return p.ID },
	Decode:  DecodePost,
	Encode:  EncodePost,
	Compare: ComparePosts,
}

// ToggleLike adds or removes name from the post's likers and recomputes
// likes. Applying it twice with the same name restores the original.
func ToggleLike(p models.Post, name string) models.Post {
	likedBy := make([]string, 0, len(p.LikedBy)+1)
	found := false
	for _, n := range p.LikedBy {
		if n == name {
			found = true
			continue
		}
		likedBy = append(likedBy, n)
	}
	if !found {
		likedBy = append(likedBy, name)
	}
	p.LikedBy = likedBy
	p.Likes = len(likedBy)
	return p
}

// Posts is the global gallery.
type Posts struct {
	feed *Reconciler[models.Post]
	now  func() time.Time
}

func NewPosts(g *graph.Graph, soul string) *Posts {
	return &Posts{
		feed: NewReconciler("posts", g.Get(soul), PostCodec),
		now:  time.Now,
	}
}

// Feed exposes the underlying reconciler for subscriptions.
func (p *Posts) Feed() *Reconciler[models.Post] { return p.feed }

func (p *Posts) Start() error { return p.feed.Start() }
func (p *Posts) Close()       { p.feed.Close() }

// Publish validates the draft and writes a new post authored by author.
func (p *Posts) Publish(ctx context.Context, author models.User, d models.Draft) (models.Post, <-chan error, error) {
	d.Normalize()
	if err := models.Validate(d); err != nil {
		return models.Post{}, nil, err
	}
	now := p.now().UTC()
	post := models.Post{
		ID:         fmt.Sprintf("p-%d-%s", now.UnixMilli(), uuid.NewString()[:8]),
		Author:     author,
		Type:       d.Type,
		Visibility: d.Visibility,
		ImageURL:   d.ImageURL,
		VideoURL:   d.VideoURL,
		AudioURL:   d.AudioURL,
		Caption:    d.Caption,
		LikedBy:    []string{},
		Rating:     5,
		Comments:   []models.Comment{},
		CreatedAt:  now,
		Deadline:   d.Deadline,
	}
	if post.Type == models.PostTarget {
		zero := 0
		post.Progress = &zero
	}
	if err := models.Validate(post); err != nil {
		return models.Post{}, nil, err
	}
	return post, p.feed.Write(ctx, post), nil
}

// ToggleLike flips userName's like on postID, touching only the likedBy
// and likes fields.
func (p *Posts) ToggleLike(ctx context.Context, postID, userName string) (models.Post, <-chan error, error) {
	post, ok := p.feed.Get(postID)
	if !ok {
		return models.Post{}, nil, apperrors.ErrPostNotFound
	}

	raw, _, err := p.feed.ReadField(ctx, postID, "likedBy")
	if err != nil {
		return models.Post{}, nil, fmt.Errorf("read likedBy: %w", err)
	}
	post.LikedBy, _ = codec.FromField[[]string](raw).Resolve(post.LikedBy)

	post = ToggleLike(post, userName)
	likedBy, err := codec.Encode(post.LikedBy)
	if err != nil {
		return models.Post{}, nil, err
	}
	ack := p.feed.WriteFields(ctx, postID, graph.Record{"likedBy": likedBy, "likes": post.Likes})
	return post, ack, nil
}

// AddComment appends a comment, rewriting only the comments field.
func (p *Posts) AddComment(ctx context.Context, postID string, author models.User, text string) (models.Comment, <-chan error, error) {
	text = strings.TrimSpace(text)
	c := models.Comment{
		ID:        "c-" + uuid.NewString()[:8],
		Author:    author,
		Text:      text,
		CreatedAt: p.now().UTC(),
	}
	if err := models.Validate(c); err != nil {
		return models.Comment{}, nil, err
	}
	if _, ok := p.feed.Get(postID); !ok {
		return models.Comment{}, nil, apperrors.ErrPostNotFound
	}

	ack := p.feed.UpdateField(ctx, postID, "comments", func(raw any) (any, error) {
		comments, _ := codec.FromField[[]models.Comment](raw).Resolve([]models.Comment{})
		return codec.Encode(append(comments, c))
	})
	return c, ack, nil
}

// SetRating writes only the rating field.
func (p *Posts) SetRating(ctx context.Context, postID string, rating int) (<-chan error, error) {
	if rating < 1 || rating > 5 {
		return nil, apperrors.ErrInvalidRating
	}
	if _, ok := p.feed.Get(postID); !ok {
		return nil, apperrors.ErrPostNotFound
	}
	return p.feed.WriteFields(ctx, postID, graph.Record{"rating": rating}), nil
}

// SetProgress records manual progress on a target.
func (p *Posts) SetProgress(ctx context.Context, postID string, progress int) (<-chan error, error) {
	post, ok := p.feed.Get(postID)
	if !ok {
		return nil, apperrors.ErrPostNotFound
	}
	if post.Type != models.PostTarget {
		return nil, apperrors.InvalidArg("only targets track progress")
	}
	return p.feed.WriteFields(ctx, postID, graph.Record{"progress": min(100, max(0, progress))}), nil
}

// All is the whole gallery, newest first.
func (p *Posts) All() []models.Post {
	return p.feed.SnapshotSync()
}

// Get returns one post from the cache.
func (p *Posts) Get(id string) (models.Post, bool) {
	return p.feed.Get(id)
}

// Visible reports whether viewer may see post: public posts are visible to
// everyone, following-only posts to their author and the author's followers.
func Visible(post models.Post, viewer models.User) bool {
	if post.Visibility != models.VisibilityFollowing {
		return true
	}
	if models.AliasKey(post.Author.Name) == models.AliasKey(viewer.Name) {
		return true
	}
	return viewer.Follows(post.Author.Name)
}

// FeedFor filters posts for viewer, keeping order.
func FeedFor(posts []models.Post, viewer models.User) []models.Post {
	out := make([]models.Post, 0, len(posts))
	for _, post := range posts {
		if Visible(post, viewer) {
			out = append(out, post)
		}
	}
	return out
}

// FeedFor is the viewer's current feed.
func (p *Posts) FeedFor(viewer models.User) []models.Post {
	return FeedFor(p.feed.SnapshotSync(), viewer)
}

// ByAuthor returns the posts authored by userID, newest first.
func (p *Posts) ByAuthor(userID string) []models.Post {
	var out []models.Post
	for _, post := range p.feed.SnapshotSync() {
		if post.Author.ID == userID {
			out = append(out, post)
		}
	}
	return out
}

// Targets returns userID's target posts, earliest deadline first. Targets
// without a deadline go last.
func (p *Posts) Targets(userID string) []models.Post {
	var out []models.Post
	for _, post := range p.ByAuthor(userID) {
		if post.Type == models.PostTarget {
			out = append(out, post)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Post) int {
		switch {
		case a.Deadline == nil && b.Deadline == nil:
			return 0
		case a.Deadline == nil:
			return 1
		case b.Deadline == nil:
			return -1
		}
		return a.Deadline.Compare(*b.Deadline)
	})
	return out
}

// Progress is the elapsed share of a target's window, 0..100. Stored
// progress wins over the time-based estimate.
func Progress(post models.Post, now time.Time) int {
	if post.Progress != nil && *post.Progress > 0 {
		return *post.Progress
	}
	if post.Deadline == nil {
		return 0
	}
	start, end := post.CreatedAt, *post.Deadline
	if !end.After(start) {
		if now.Before(end) {
			return 0
		}
		return 100
	}
	pct := float64(now.Sub(start)) / float64(end.Sub(start)) * 100
	return min(100, max(0, int(pct+0.5)))
}

// AverageProgress over targets, rounded; 0 for none.
func AverageProgress(targets []models.Post, now time.Time) int {
	if len(targets) == 0 {
		return 0
	}
	total := 0
	for _, t := range targets {
		total += Progress(t, now)
	}
	return int(float64(total)/float64(len(targets)) + 0.5)
}

// Wait blocks for an ack channel, for callers that need read-your-writes.
func Wait(ctx context.Context, ack <-chan error) error {
	if ack == nil {
		return errors.New("feed: nil ack")
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
