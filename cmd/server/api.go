package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/mutation"
	"tuzemoon/internal/notice"
	"tuzemoon/internal/querycache"
	"tuzemoon/internal/session"
	"tuzemoon/internal/storage"
)

// userHeader carries the caller's user ID. Authentication happens upstream.
const userHeader = "X-User-ID"

// API is a thin JSON surface over the query cache and the mutation service.
type API struct {
	stores *allStores
	cache  *querycache.Cache
	logger *slog.Logger
	now    func() time.Time

	// one mutation service per user so each keeps its own session
	mu       sync.Mutex
	services map[string]*mutation.Service
}

// NewAPI creates an API.
func NewAPI(stores *allStores, cache *querycache.Cache, logger *slog.Logger) *API {
	return &API{
		stores:   stores,
		cache:    cache,
		logger:   logger.With("component", "api"),
		now:      time.Now,
		services: make(map[string]*mutation.Service),
	}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/memes", a.handleListMemes)
	mux.HandleFunc("GET /api/memes/featured", a.handleFeatured)
	mux.HandleFunc("POST /api/memes/{id}/like", a.handleLike(true))
	mux.HandleFunc("DELETE /api/memes/{id}/like", a.handleLike(false))
	mux.HandleFunc("POST /api/memes/{id}/watchlist", a.handleWatchlist)
}

// Close stops every mutation service.
func (a *API) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, svc := range a.services {
		svc.Close()
		delete(a.services, id)
	}
}

type memeView struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	ImageURL      string     `json:"image_url"`
	Blockchain    string     `json:"blockchain"`
	Likes         int64      `json:"likes"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	Featured      bool       `json:"featured"`
	TuzemoonUntil *time.Time `json:"tuzemoon_until,omitempty"`
}

func toViews(memes []*domain.Meme, now time.Time) []memeView {
	return lo.Map(memes, func(m *domain.Meme, _ int) memeView {
		return memeView{
			ID:            m.ID,
			Title:         m.Title,
			Description:   m.Description,
			ImageURL:      m.ImageURL,
			Blockchain:    m.Blockchain,
			Likes:         m.Likes,
			CreatedBy:     m.CreatedBy,
			CreatedAt:     m.CreatedAt,
			Featured:      m.IsCurrentlyFeatured(now),
			TuzemoonUntil: m.TuzemoonUntil,
		}
	})
}

// parseFilter reads date, blockchain, page and sort query parameters.
func parseFilter(r *http.Request) (domain.MemeFilter, error) {
	q := r.URL.Query()
	f := domain.MemeFilter{
		Blockchain: q.Get("blockchain"),
		Sort:       domain.SortNewest,
	}
	if v := q.Get("date"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return f, errors.New("date must be YYYY-MM-DD")
		}
		f.SelectedDate = &d
	}
	if v := q.Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 0 {
			return f, errors.New("page must be a non-negative integer")
		}
		f.Page = p
	}
	switch v := q.Get("sort"); v {
	case "", domain.SortNewest:
	case domain.SortMostLiked:
		f.Sort = v
	default:
		return f, errors.New("sort must be newest or most_liked")
	}
	return f, nil
}

func memesKey(f domain.MemeFilter) querycache.Key {
	date := ""
	if f.SelectedDate != nil {
		date = f.SelectedDate.Format(time.DateOnly)
	}
	return querycache.NewKey(querycache.PrefixMemes,
		"date", date,
		"blockchain", f.Blockchain,
		"page", strconv.Itoa(f.Page),
		"sort", f.Sort,
	)
}

func (a *API) handleListMemes(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := a.cache.Read(r.Context(), memesKey(filter), func(ctx context.Context) (any, error) {
		return a.stores.memes.List(ctx, filter, a.now())
	})
	if err != nil {
		a.logger.Error("list memes", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load memes")
		return
	}
	writeJSON(w, http.StatusOK, toViews(data.([]*domain.Meme), a.now()))
}

func (a *API) handleFeatured(w http.ResponseWriter, r *http.Request) {
	data, err := a.cache.Read(r.Context(), querycache.FeaturedMemesKey(), func(ctx context.Context) (any, error) {
		return a.stores.memes.ListFeatured(ctx, a.now())
	})
	if err != nil {
		a.logger.Error("list featured memes", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load featured memes")
		return
	}
	writeJSON(w, http.StatusOK, toViews(data.([]*domain.Meme), a.now()))
}

func (a *API) handleLike(liked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, memeID, ok := a.prepare(w, r)
		if !ok {
			return
		}
		var err error
		if liked {
			err = svc.Like(r.Context(), memeID)
		} else {
			err = svc.Unlike(r.Context(), memeID)
		}
		if a.writeActionError(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"liked": liked})
	}
}

func (a *API) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	svc, memeID, ok := a.prepare(w, r)
	if !ok {
		return
	}
	on, err := svc.ToggleWatchlist(r.Context(), memeID)
	if a.writeActionError(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watchlisted": on})
}

// prepare resolves the caller and the meme ID, writing the error response itself.
func (a *API) prepare(w http.ResponseWriter, r *http.Request) (*mutation.Service, int64, bool) {
	memeID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || memeID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid meme id")
		return nil, 0, false
	}

	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "sign in required")
		return nil, 0, false
	}
	user, err := a.stores.users.GetByID(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "sign in required")
		return nil, 0, false
	}
	if err != nil {
		a.logger.Error("load user", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load user")
		return nil, 0, false
	}
	return a.serviceFor(user), memeID, true
}

func (a *API) serviceFor(user *domain.User) *mutation.Service {
	a.mu.Lock()
	defer a.mu.Unlock()
	svc, ok := a.services[user.ID]
	if !ok {
		svc = mutation.New(
			session.Static{User: user},
			a.stores.likes,
			a.stores.watchlist,
			a.cache,
			notice.LogSink{Logger: a.logger},
			a.logger,
		)
		a.services[user.ID] = svc
	}
	return svc
}

// writeActionError maps mutation errors to responses and reports whether it wrote one.
func (a *API) writeActionError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrAlreadyApplied):
		writeJSON(w, http.StatusOK, map[string]any{"already_applied": true})
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "sign in required")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "meme not found")
	default:
		writeError(w, http.StatusBadGateway, "action failed, please try again")
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
