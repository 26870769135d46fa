package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"campusforum/api/internal/auth"
	"campusforum/api/internal/blob"
	"campusforum/api/internal/config"
	"campusforum/api/internal/export"
	"campusforum/api/internal/forum"
	"campusforum/api/internal/gitrepo"
	"campusforum/api/internal/rbac"
	"campusforum/api/internal/search"
	"campusforum/api/internal/store"
	"campusforum/api/internal/util"
)

type CreatePostInput struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

type ReplyInput struct {
	Text          string `json:"text"`
	ParentReplyID string `json:"parentReplyId"`
}

type VoteInput struct {
	Type    string `json:"type"`
	ReplyID string `json:"replyId"`
}

// EditPostInput is the edit allow-list. Any other key in the request body is
// ignored by the decoder.
type EditPostInput struct {
	Title    *string   `json:"title"`
	Content  *string   `json:"content"`
	Category *string   `json:"category"`
	Tags     *[]string `json:"tags"`
}

// ExportOutput carries either the rendered file or, when exports are uploaded
// to object storage, a download link.
type ExportOutput struct {
	File *export.Result
	URL  string
}

type forumStore interface {
	InsertPost(context.Context, *forum.Post) error
	LoadPost(context.Context, string) (forum.Post, error)
	SavePost(context.Context, *forum.Post) error
	ListPosts(context.Context, store.PostFilter) ([]forum.Post, error)
	Ping(context.Context) error
}

type postCache interface {
	GetList(context.Context, string) ([]forum.Post, int64, bool, error)
	PutList(context.Context, int64, string, []forum.Post) error
	Invalidate(context.Context) error
	Ping(context.Context) error
}

type searcher interface {
	Search(context.Context, search.Query) search.Response
	IndexPost(forum.Post)
	ReindexAll([]forum.Post) (int, error)
}

type revisionArchive interface {
	CommitRevision(postID string, snapshot gitrepo.Snapshot, author, message string) (gitrepo.Revision, error)
	History(postID string, limit int) ([]gitrepo.Revision, error)
	GetSnapshot(postID, hash string) (gitrepo.Snapshot, error)
}

type exporter interface {
	Export(context.Context, forum.PostView, export.Format) (*export.Result, error)
}

type blobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

const (
	defaultSearchLimit  = 20
	maxSearchLimit      = 100
	defaultHistoryLimit = 50
	sideEffectTimeout   = 5 * time.Second
)

// Service composes the forum operations. Every mutation is one
// load-mutate-save cycle over a whole post; a stale save is retried against a
// fresh copy up to conflictRetries times.
type Service struct {
	store           forumStore
	cache           postCache
	search          searcher
	archive         revisionArchive
	exporter        exporter
	blobs           blobStore
	maxReplyDepth   int
	conflictRetries int
	now             func() time.Time
}

func New(cfg config.Config, forumStore forumStore) *Service {
	depth := cfg.MaxReplyDepth
	if depth <= 0 {
		depth = forum.DefaultMaxReplyDepth
	}
	retries := cfg.ConflictRetries
	if retries < 0 {
		retries = 0
	}
	return &Service{
		store:           forumStore,
		maxReplyDepth:   depth,
		conflictRetries: retries,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithCache(cache postCache) *Service {
	s.cache = cache
	return s
}

func (s *Service) WithSearch(searcher searcher) *Service {
	s.search = searcher
	return s
}

func (s *Service) WithArchive(archive revisionArchive) *Service {
	s.archive = archive
	return s
}

func (s *Service) WithExporter(exporter exporter, blobs blobStore) *Service {
	s.exporter = exporter
	s.blobs = blobs
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache reports whether the list cache answers. A service without a cache
// is always ready.
func (s *Service) PingCache(ctx context.Context) (configured bool, err error) {
	if s.cache == nil {
		return false, nil
	}
	return true, s.cache.Ping(ctx)
}

func (s *Service) CreatePost(ctx context.Context, identity auth.Identity, input CreatePostInput) (forum.PostView, error) {
	if !rbac.Can(identity.Role, rbac.ActionPost) {
		return forum.PostView{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	title := strings.TrimSpace(input.Title)
	content := strings.TrimSpace(input.Content)
	category := strings.TrimSpace(input.Category)
	var missing []string
	if title == "" {
		missing = append(missing, "title")
	}
	if content == "" {
		missing = append(missing, "content")
	}
	if category == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return forum.PostView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			strings.Join(missing, ", ")+" required", map[string]any{"missing": missing})
	}

	post := forum.NewPost(
		util.NewID("post"),
		authorOf(identity),
		title,
		content,
		category,
		forum.NormalizeTags(input.Tags),
		s.now(),
	)
	if err := s.store.InsertPost(ctx, &post); err != nil {
		return forum.PostView{}, err
	}
	s.afterCommit(ctx, post)
	s.archiveRevision(post, identity, "Create post")
	return forum.NewPostView(post, identity.ID), nil
}

// ListPosts returns every post, or those in category, newest first.
func (s *Service) ListPosts(ctx context.Context, identity auth.Identity, category string) ([]forum.PostView, error) {
	filter := store.PostFilter{Category: strings.TrimSpace(category)}
	cacheName := "all"
	if filter.Category != "" {
		cacheName = "category:" + filter.Category
	}
	posts, err := s.cachedList(ctx, cacheName, filter)
	if err != nil {
		return nil, err
	}
	return forum.NewPostViews(posts, identity.ID), nil
}

func (s *Service) ListMyPosts(ctx context.Context, identity auth.Identity) ([]forum.PostView, error) {
	posts, err := s.cachedList(ctx, "author:"+identity.ID, store.PostFilter{AuthorID: identity.ID})
	if err != nil {
		return nil, err
	}
	return forum.NewPostViews(posts, identity.ID), nil
}

// AuthorPostSummaries is the public profile listing for authorID.
func (s *Service) AuthorPostSummaries(ctx context.Context, authorID string) ([]forum.PostSummary, error) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return nil, validationError("author id is required")
	}
	posts, err := s.cachedList(ctx, "author:"+authorID, store.PostFilter{AuthorID: authorID})
	if err != nil {
		return nil, err
	}
	summaries := make([]forum.PostSummary, 0, len(posts))
	for _, post := range posts {
		summaries = append(summaries, forum.NewPostSummary(post))
	}
	return summaries, nil
}

func (s *Service) GetPost(ctx context.Context, identity auth.Identity, postID string) (forum.PostView, error) {
	post, err := s.store.LoadPost(ctx, postID)
	if err != nil {
		return forum.PostView{}, err
	}
	return forum.NewPostView(post, identity.ID), nil
}

func (s *Service) AddReply(ctx context.Context, identity auth.Identity, postID string, input ReplyInput) (forum.PostView, error) {
	if !rbac.Can(identity.Role, rbac.ActionReply) {
		return forum.PostView{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return forum.PostView{}, validationError("text is required")
	}
	parentID := strings.TrimSpace(input.ParentReplyID)

	post, err := s.mutate(ctx, postID, func(post *forum.Post) error {
		reply := forum.NewReply(util.NewID("rep"), authorOf(identity), text, s.now())
		return post.AddReply(parentID, reply, s.maxReplyDepth)
	})
	if err != nil {
		return forum.PostView{}, err
	}
	s.afterCommit(ctx, post)
	return forum.NewPostView(post, identity.ID), nil
}

func (s *Service) CastVote(ctx context.Context, identity auth.Identity, postID string, input VoteInput) (forum.PostView, error) {
	if !rbac.Can(identity.Role, rbac.ActionVote) {
		return forum.PostView{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	vote, ok := forum.ParseVoteType(input.Type)
	if !ok {
		return forum.PostView{}, validationError("type must be 'like' or 'dislike'")
	}
	replyID := strings.TrimSpace(input.ReplyID)

	post, err := s.mutate(ctx, postID, func(post *forum.Post) error {
		return post.Vote(replyID, identity.ID, vote)
	})
	if err != nil {
		return forum.PostView{}, err
	}
	s.afterCommit(ctx, post)
	return forum.NewPostView(post, identity.ID), nil
}

// EditPost applies a partial update. Only the post's author may edit, and a
// provided field may not be blank.
func (s *Service) EditPost(ctx context.Context, identity auth.Identity, postID string, input EditPostInput) (forum.PostView, error) {
	post, err := s.mutate(ctx, postID, func(post *forum.Post) error {
		if !post.IsAuthoredBy(identity.ID) {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit this post", nil)
		}
		patch, err := buildPatch(input)
		if err != nil {
			return err
		}
		post.ApplyPatch(patch)
		return nil
	})
	if err != nil {
		return forum.PostView{}, err
	}
	s.afterCommit(ctx, post)
	s.archiveRevision(post, identity, "Edit post")
	return forum.NewPostView(post, identity.ID), nil
}

func buildPatch(input EditPostInput) (forum.Patch, error) {
	var patch forum.Patch
	for _, field := range []struct {
		name string
		src  *string
		dst  **string
	}{
		{"title", input.Title, &patch.Title},
		{"content", input.Content, &patch.Content},
		{"category", input.Category, &patch.Category},
	} {
		if field.src == nil {
			continue
		}
		value := strings.TrimSpace(*field.src)
		if value == "" {
			return forum.Patch{}, validationError(field.name + " must not be empty")
		}
		*field.dst = &value
	}
	patch.Tags = input.Tags
	if patch.Empty() {
		return forum.Patch{}, validationError("at least one of title, content, category, tags is required")
	}
	return patch, nil
}

func (s *Service) SearchPosts(ctx context.Context, query search.Query) search.Response {
	query.Text = strings.TrimSpace(query.Text)
	query.Category = strings.TrimSpace(query.Category)
	if query.Limit <= 0 {
		query.Limit = defaultSearchLimit
	}
	if query.Limit > maxSearchLimit {
		query.Limit = maxSearchLimit
	}
	if query.Offset < 0 {
		query.Offset = 0
	}
	if s.search == nil || query.Text == "" {
		return search.Response{Results: []search.Result{}, Total: 0, Query: query.Text}
	}
	return s.search.Search(ctx, query)
}

func (s *Service) PostHistory(ctx context.Context, postID string, limit int) ([]gitrepo.Revision, error) {
	if _, err := s.store.LoadPost(ctx, postID); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []gitrepo.Revision{}, nil
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.archive.History(postID, limit)
}

// PostRevision returns the archived fields of postID as of revision hash.
func (s *Service) PostRevision(ctx context.Context, postID, hash string) (gitrepo.Snapshot, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return gitrepo.Snapshot{}, validationError("revision hash is required")
	}
	if _, err := s.store.LoadPost(ctx, postID); err != nil {
		return gitrepo.Snapshot{}, err
	}
	if s.archive == nil {
		return gitrepo.Snapshot{}, gitrepo.ErrRevisionNotFound
	}
	snapshot, err := s.archive.GetSnapshot(postID, hash)
	if err != nil {
		return gitrepo.Snapshot{}, err
	}
	if snapshot.Tags == nil {
		snapshot.Tags = []string{}
	}
	return snapshot, nil
}

func (s *Service) ExportPost(ctx context.Context, identity auth.Identity, postID, format string) (ExportOutput, error) {
	if s.exporter == nil {
		return ExportOutput{}, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	parsed, ok := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if !ok {
		return ExportOutput{}, export.ErrUnsupportedFormat
	}
	post, err := s.store.LoadPost(ctx, postID)
	if err != nil {
		return ExportOutput{}, err
	}
	result, err := s.exporter.Export(ctx, forum.NewPostView(post, identity.ID), parsed)
	if err != nil {
		return ExportOutput{}, err
	}
	if s.blobs == nil {
		return ExportOutput{File: result}, nil
	}
	link, err := s.blobs.Put(ctx, blob.ObjectKey(post.ID, post.Version, result.Filename), result.MimeType, result.Data)
	if err != nil {
		return ExportOutput{}, err
	}
	return ExportOutput{URL: link}, nil
}

// ReindexSearch pushes every post to the search index. Admin only.
func (s *Service) ReindexSearch(ctx context.Context, identity auth.Identity) (int, error) {
	if !rbac.Can(identity.Role, rbac.ActionModerate) {
		return 0, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if s.search == nil {
		return 0, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	posts, err := s.store.ListPosts(ctx, store.PostFilter{})
	if err != nil {
		return 0, err
	}
	return s.search.ReindexAll(posts)
}

// mutate runs one load-mutate-save cycle for postID and retries it from a
// fresh load when the save loses a version race. apply must be safe to call
// more than once.
func (s *Service) mutate(ctx context.Context, postID string, apply func(*forum.Post) error) (forum.Post, error) {
	var lastErr error
	for attempt := 0; attempt <= s.conflictRetries; attempt++ {
		post, err := s.store.LoadPost(ctx, postID)
		if err != nil {
			return forum.Post{}, err
		}
		if err := apply(&post); err != nil {
			return forum.Post{}, err
		}
		post.UpdatedAt = s.now()

		err = s.store.SavePost(ctx, &post)
		if err == nil {
			return post, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return forum.Post{}, err
		}
		lastErr = err
		log.WithFields(log.Fields{"post_id": postID, "attempt": attempt + 1}).Debug("save conflict, reloading post")
	}
	return forum.Post{}, lastErr
}

// cachedList fills a miss from the store and writes it back into the cache
// generation the miss was seen in. A failed cache read skips the write-back.
func (s *Service) cachedList(ctx context.Context, name string, filter store.PostFilter) ([]forum.Post, error) {
	var (
		generation int64
		writeBack  bool
	)
	if s.cache != nil {
		posts, gen, ok, err := s.cache.GetList(ctx, name)
		switch {
		case err != nil:
			log.WithError(err).WithField("list", name).Warn("cache read failed")
		case ok:
			return posts, nil
		default:
			generation, writeBack = gen, true
		}
	}
	posts, err := s.store.ListPosts(ctx, filter)
	if err != nil {
		return nil, err
	}
	if writeBack {
		if err := s.cache.PutList(ctx, generation, name, posts); err != nil {
			log.WithError(err).WithField("list", name).Warn("cache write failed")
		}
	}
	return posts, nil
}

// afterCommit runs once a save is durable. Failures are logged and never
// reach the caller.
func (s *Service) afterCommit(ctx context.Context, post forum.Post) {
	if s.cache != nil {
		cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		if err := s.cache.Invalidate(cacheCtx); err != nil {
			log.WithError(err).WithField("post_id", post.ID).Warn("cache invalidate failed")
		}
		cancel()
	}
	if s.search != nil {
		s.search.IndexPost(post)
	}
}

func (s *Service) archiveRevision(post forum.Post, identity auth.Identity, message string) {
	if s.archive == nil {
		return
	}
	snapshot := gitrepo.Snapshot{
		Version:  post.Version,
		Title:    post.Title,
		Content:  post.Content,
		Category: post.Category,
		Tags:     post.Tags,
	}
	author := identity.Name
	if author == "" {
		author = identity.ID
	}
	if _, err := s.archive.CommitRevision(post.ID, snapshot, author, message); err != nil {
		log.WithError(err).WithField("post_id", post.ID).Warn("archive revision failed")
	}
}

func authorOf(identity auth.Identity) forum.Author {
	return forum.Author{ID: identity.ID, Role: string(identity.Role), Name: strings.TrimSpace(identity.Name)}
}
