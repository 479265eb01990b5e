// Package mutation applies user actions optimistically: the cache changes
// first, the write follows, and failures roll the local change back.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/notice"
	"tuzemoon/internal/observability"
	"tuzemoon/internal/querycache"
	"tuzemoon/internal/reconcile"
	"tuzemoon/internal/session"
	"tuzemoon/internal/storage"
)

// Action names used in metrics and logs.
const (
	ActionLike            = "like"
	ActionUnlike          = "unlike"
	ActionWatchlistAdd    = "watchlist_add"
	ActionWatchlistRemove = "watchlist_remove"
)

// userScopedPrefixes are dropped on sign-out.
var userScopedPrefixes = []string{
	querycache.PrefixUserLikes,
	querycache.PrefixLikeStatus,
	querycache.PrefixWatchlistStatus,
	querycache.PrefixWatchlistMemes,
	querycache.PrefixPayments,
}

// Service runs like and watchlist actions.
type Service struct {
	session   session.Accessor
	likes     storage.LikeStore
	watchlist storage.WatchlistStore
	cache     *querycache.Cache
	table     reconcile.InvalidationTable
	notices   notice.Sink
	logger    *slog.Logger

	locks  *keyedMutex
	now    func() time.Time
	closed atomic.Bool
}

// New creates a Service.
func New(
	sess session.Accessor,
	likes storage.LikeStore,
	watchlist storage.WatchlistStore,
	cache *querycache.Cache,
	notices notice.Sink,
	logger *slog.Logger,
) *Service {
	if notices == nil {
		notices = notice.Discard
	}
	return &Service{
		session:   sess,
		likes:     likes,
		watchlist: watchlist,
		cache:     cache,
		table:     reconcile.DefaultTable(),
		notices:   notices,
		logger:    logger.With(slog.String("component", "mutation")),
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// Like records a like for the current user.
func (s *Service) Like(ctx context.Context, memeID int64) error {
	return s.setLike(ctx, memeID, true)
}

// Unlike removes the current user's like.
func (s *Service) Unlike(ctx context.Context, memeID int64) error {
	return s.setLike(ctx, memeID, false)
}

func (s *Service) setLike(ctx context.Context, memeID int64, liked bool) error {
	action, delta := ActionLike, int64(1)
	if !liked {
		action, delta = ActionUnlike, -1
	}

	user, err := s.requireUser(action)
	if err != nil {
		return err
	}
	release := s.locks.lock(entityKey(user.ID, memeID))
	defer release()

	logger := s.logger.With(
		slog.String("action", action),
		slog.String("user_id", user.ID),
		slog.Int64("meme_id", memeID),
	)

	statusKey := querycache.LikeStatusKey(user.ID, memeID)
	current, known := s.cache.Get(statusKey)
	var counter change
	if !known || current != liked {
		counter = adjustLikes(s.cache, memeID, delta)
	}
	changes := applyAll(counter.orNoop(), setStatus(s.cache, statusKey, liked))

	if liked {
		err = s.likes.Insert(ctx, &domain.Like{UserID: user.ID, MemeID: memeID, CreatedAt: s.now().UTC()})
	} else {
		err = s.likes.Delete(ctx, user.ID, memeID)
	}

	if s.closed.Load() {
		return err
	}

	switch {
	case err == nil:
		observability.RecordMutation(action, "ok")
	case isAlreadyApplied(err, liked):
		// row state already matches; only the counter guess was wrong
		counter.rollback()
		observability.RecordMutation(action, "already_applied")
		msg := "You already liked this meme"
		if !liked {
			msg = "This meme is not in your likes"
		}
		s.notices.Notify(notice.Notice{Level: notice.Info, Title: "Already applied", Message: msg})
		logger.Info("action already applied")
		s.invalidate(domain.CollectionLikes)
		return domain.ErrAlreadyApplied
	default:
		rollbackAll(changes)
		observability.RecordMutation(action, "failed")
		s.notices.Notify(notice.Notice{Level: notice.Error, Title: "Action failed", Message: "Could not update like, please try again"})
		logger.Warn("action failed, rolled back", slog.Any("error", err))
		s.invalidate(domain.CollectionLikes)
		return fmt.Errorf("%w: %s: %w", domain.ErrActionFailed, action, err)
	}

	s.invalidate(domain.CollectionLikes)
	return nil
}

// ToggleWatchlist adds the meme to the current user's watchlist or removes
// it. It returns whether the meme is on the watchlist afterwards.
func (s *Service) ToggleWatchlist(ctx context.Context, memeID int64) (bool, error) {
	user, err := s.requireUser(ActionWatchlistAdd)
	if err != nil {
		return false, err
	}
	release := s.locks.lock(entityKey(user.ID, memeID))
	defer release()

	statusKey := querycache.WatchlistStatusKey(user.ID, memeID)
	var onList bool
	if v, ok := s.cache.Get(statusKey); ok {
		onList, _ = v.(bool)
	} else {
		onList, err = s.watchlist.Exists(ctx, user.ID, memeID)
		if err != nil {
			s.notices.Notify(notice.Notice{Level: notice.Error, Title: "Action failed", Message: "Could not load watchlist"})
			return false, fmt.Errorf("%w: watchlist lookup: %w", domain.ErrActionFailed, err)
		}
	}

	add := !onList
	action := ActionWatchlistAdd
	if !add {
		action = ActionWatchlistRemove
	}
	logger := s.logger.With(
		slog.String("action", action),
		slog.String("user_id", user.ID),
		slog.Int64("meme_id", memeID),
	)

	changes := []change{setStatus(s.cache, statusKey, add)}
	if !add {
		changes = append(changes, removeFromList(s.cache, querycache.WatchlistMemesKey(user.ID), memeID))
	}
	applyAll(changes...)

	if add {
		err = s.watchlist.Insert(ctx, &domain.WatchlistEntry{UserID: user.ID, MemeID: memeID, CreatedAt: s.now().UTC()})
	} else {
		err = s.watchlist.Delete(ctx, user.ID, memeID)
	}

	if s.closed.Load() {
		return add, err
	}

	switch {
	case err == nil:
		observability.RecordMutation(action, "ok")
		title := "Added to watchlist"
		if !add {
			title = "Removed from watchlist"
		}
		s.notices.Notify(notice.Notice{Level: notice.Success, Title: title})
	case isAlreadyApplied(err, add):
		observability.RecordMutation(action, "already_applied")
		msg := "Already in watchlist"
		if !add {
			msg = "Not in watchlist"
		}
		s.notices.Notify(notice.Notice{Level: notice.Info, Title: "Already applied", Message: msg})
		logger.Info("action already applied")
		s.invalidate(domain.CollectionWatchlist)
		return add, domain.ErrAlreadyApplied
	default:
		rollbackAll(changes)
		observability.RecordMutation(action, "failed")
		s.notices.Notify(notice.Notice{Level: notice.Error, Title: "Action failed", Message: "Could not update watchlist, please try again"})
		logger.Warn("action failed, rolled back", slog.Any("error", err))
		s.invalidate(domain.CollectionWatchlist)
		return onList, fmt.Errorf("%w: %s: %w", domain.ErrActionFailed, action, err)
	}

	s.invalidate(domain.CollectionWatchlist)
	return add, nil
}

// WatchSession drops user-scoped cache entries when the user signs out.
// The returned func stops watching.
func (s *Service) WatchSession(m interface {
	Subscribe(func(session.Event)) func()
}) func() {
	return m.Subscribe(func(e session.Event) {
		if e.Type != session.SignedOut || s.closed.Load() {
			return
		}
		for _, p := range userScopedPrefixes {
			s.cache.Invalidate(querycache.Prefix(p))
		}
	})
}

// Close makes in-flight actions skip cache work once their write settles.
func (s *Service) Close() {
	s.closed.Store(true)
}

func (s *Service) requireUser(action string) (*domain.User, error) {
	user := s.session.Current()
	if user == nil {
		observability.RecordMutation(action, "unauthenticated")
		s.notices.Notify(notice.Notice{Level: notice.Error, Title: "Sign in required", Message: "Please sign in to continue"})
		return nil, domain.ErrUnauthenticated
	}
	return user, nil
}

// invalidate marks this client's own results stale after a settled write.
func (s *Service) invalidate(collection string) {
	for _, p := range s.table.Prefixes(collection) {
		s.cache.Invalidate(querycache.Prefix(p))
	}
}

// isAlreadyApplied reports whether a write failed only because the row
// already was in the requested state.
func isAlreadyApplied(err error, insert bool) bool {
	if insert {
		return errors.Is(err, storage.ErrDuplicateKey)
	}
	return errors.Is(err, storage.ErrNotFound)
}

func entityKey(userID string, memeID int64) string {
	return userID + "/" + strconv.FormatInt(memeID, 10)
}
