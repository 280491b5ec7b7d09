package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/park285/quiz-duel/internal/bot"
	"github.com/park285/quiz-duel/internal/challenge"
	"github.com/park285/quiz-duel/internal/domain"
	"github.com/park285/quiz-duel/internal/msgcat"
	"github.com/park285/quiz-duel/internal/notify"
	"github.com/park285/quiz-duel/internal/quickmatch"
	"go.uber.org/zap"
)

type handlers struct {
	d Deps
}

type identity struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	School   string `json:"school"`
	Level    string `json:"level"`
}

func (i identity) level() domain.Level {
	if strings.TrimSpace(i.Level) == "" {
		return ""
	}
	return domain.ParseLevel(i.Level)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	type result struct {
		Status    string     `json:"status"`
		UpdatedAt *time.Time `json:"updated_at,omitempty"`
		AgeSec    *int64     `json:"age_sec,omitempty"`
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	checks := make(map[string]result, len(h.d.Checks)+1)
	status := http.StatusOK
	for name, check := range h.d.Checks {
		checks[name] = result{Status: "ok"}
		if err := check(ctx); err != nil {
			h.d.Logger.Error("health_check_failed", zap.String("name", name), zap.Error(err))
			checks[name] = result{Status: "error"}
			status = http.StatusServiceUnavailable
		}
	}
	// a stale feed only degrades matching to the bot, so it never fails the probe
	if h.d.Feed != nil {
		feedRes := result{Status: "waiting"}
		if at := h.d.Feed.UpdatedAt(); !at.IsZero() {
			age := int64(time.Since(at) / time.Second)
			feedRes = result{Status: "ok", UpdatedAt: &at, AgeSec: &age}
			if time.Since(at) > feedStaleAfter {
				feedRes.Status = "stale"
			}
		}
		checks["feed"] = feedRes
	}
	writeJSON(w, status, checks)
}

type presenceView struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

func (h *handlers) presenceStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	online, err := h.d.Online.IsOnline(r.Context(), id)
	if err != nil {
		h.d.Logger.Error("presence_lookup_error", zap.String("user_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "presence store unavailable", "")
		return
	}
	view := presenceView{UserID: id, Online: online}
	if rec, ok, err := h.d.Presence.LastSeen(r.Context(), id); err == nil && ok {
		view.LastSeen = &rec.LastSeen
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	var in identity
	if err := readJSON(r, &in); err != nil || strings.TrimSpace(in.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", "")
		return
	}
	if bot.IsBot(in.UserID) {
		writeError(w, http.StatusBadRequest, "reserved user id", "")
		return
	}
	if _, err := h.d.Players.Ensure(r.Context(), in.UserID, in.UserName, in.School, in.level()); err != nil {
		h.d.Logger.Error("heartbeat_player_error", zap.String("user_id", in.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "player store unavailable", "")
		return
	}
	rec, err := h.d.Presence.Touch(r.Context(), in.UserID)
	if err != nil {
		h.d.Logger.Error("heartbeat_touch_error", zap.String("user_id", in.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "presence store unavailable", "")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type ticketView struct {
	ChallengeID string            `json:"challenge_id"`
	Opponent    domain.Player     `json:"opponent"`
	Bot         bool              `json:"bot"`
	Remaining   int               `json:"remaining"`
	Resolved    bool              `json:"resolved"`
	Cancelled   bool              `json:"cancelled,omitempty"`
	Challenge   *domain.Challenge `json:"challenge,omitempty"`
}

func viewTicket(t *quickmatch.Ticket) ticketView {
	out, resolved, err := t.Result()
	return ticketView{
		ChallengeID: t.ChallengeID(),
		Opponent:    t.Opponent(),
		Bot:         t.AgainstBot(),
		Remaining:   t.Remaining(),
		Resolved:    resolved,
		Cancelled:   resolved && err != nil,
		Challenge:   out.Challenge,
	}
}

func (h *handlers) quickMatch(w http.ResponseWriter, r *http.Request) {
	var in identity
	if err := readJSON(r, &in); err != nil || strings.TrimSpace(in.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", "")
		return
	}
	if bot.IsBot(in.UserID) {
		writeError(w, http.StatusBadRequest, "reserved user id", "")
		return
	}
	p, err := h.d.Players.Ensure(r.Context(), in.UserID, in.UserName, in.School, in.level())
	if err != nil {
		h.d.Logger.Error("quickmatch_player_error", zap.String("user_id", in.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "player store unavailable", "")
		return
	}
	// the countdown outlives this request
	t, err := h.d.QuickMatch.Search(context.WithoutCancel(r.Context()), *p)
	if err != nil {
		h.fail(w, err, msgcat.KeyCreateFailed, "")
		return
	}
	status := http.StatusAccepted
	if t.AgainstBot() {
		status = http.StatusCreated
	}
	writeJSON(w, status, viewTicket(t))
}

func (h *handlers) quickMatchStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if t, ok := h.d.QuickMatch.Ticket(id); ok {
		writeJSON(w, http.StatusOK, viewTicket(t))
		return
	}
	c, err := h.d.Challenges.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err, "", id)
		return
	}
	writeJSON(w, http.StatusOK, ticketView{
		ChallengeID: c.ID,
		Resolved:    true,
		Cancelled:   c.Status == domain.StatusCancelled,
		Challenge:   c,
	})
}

func (h *handlers) quickMatchCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if t, ok := h.d.QuickMatch.Ticket(id); ok {
		if err := t.Cancel(r.Context()); err != nil {
			h.fail(w, err, msgcat.KeyStartFailed, id)
			return
		}
		writeJSON(w, http.StatusOK, viewTicket(t))
		return
	}
	h.cancelChallenge(w, r)
}

func (h *handlers) createChallenge(w http.ResponseWriter, r *http.Request) {
	var spec challenge.Spec
	if err := readJSON(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json", h.notice(msgcat.KeyCreateFailed, map[string]any{"Reason": "invalid json"}))
		return
	}
	c, err := h.d.Challenges.Create(r.Context(), spec)
	if err != nil {
		h.fail(w, err, msgcat.KeyCreateFailed, "")
		return
	}
	for _, o := range c.Opponents {
		h.send(o.UserID, c.ID, msgcat.KeyInvited, map[string]any{
			"CreatorName":   c.CreatorName,
			"Subject":       c.Subject,
			"QuestionCount": c.QuestionCount,
		})
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *handlers) getChallenge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.d.Challenges.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err, "", id)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type actor struct {
	UserID string `json:"user_id"`
}

func (h *handlers) acceptChallenge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in actor
	if err := readJSON(r, &in); err != nil || strings.TrimSpace(in.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", h.notice(msgcat.KeyAcceptFailed, map[string]any{"ChallengeID": id, "Reason": "user_id is required"}))
		return
	}
	c, err := h.d.Challenges.Accept(r.Context(), id, in.UserID)
	if err != nil {
		h.fail(w, err, msgcat.KeyAcceptFailed, id)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) declineChallenge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in actor
	if err := readJSON(r, &in); err != nil || strings.TrimSpace(in.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", "")
		return
	}
	c, err := h.d.Challenges.Decline(r.Context(), id, in.UserID)
	if err != nil {
		h.fail(w, err, "", id)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type startView struct {
	Challenge     *domain.Challenge `json:"challenge"`
	Started       bool              `json:"started"`
	AlreadyActive bool              `json:"already_active"`
}

func (h *handlers) startChallenge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.d.Challenges.Start(r.Context(), id)
	if err != nil {
		h.fail(w, err, msgcat.KeyStartFailed, id)
		return
	}
	writeJSON(w, http.StatusOK, startView{Challenge: res.Challenge, Started: res.Started, AlreadyActive: res.AlreadyActive})
}

func (h *handlers) cancelChallenge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	before, _ := h.d.Challenges.Get(r.Context(), id)
	c, err := h.d.Challenges.Cancel(r.Context(), id)
	if err != nil {
		h.fail(w, err, "", id)
		return
	}
	if before != nil && before.Status != domain.StatusCancelled {
		for _, uid := range c.Participants() {
			h.send(uid, c.ID, msgcat.KeyCancelled, map[string]any{"ChallengeID": c.ID})
		}
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) listPlayerChallenges(w http.ResponseWriter, r *http.Request) {
	list, err := h.d.Challenges.ListByUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err, "", "")
		return
	}
	if list == nil {
		list = []*domain.Challenge{}
	}
	writeJSON(w, http.StatusOK, list)
}

// fail maps err to a status and, when key is set, renders a notice.
func (h *handlers) fail(w http.ResponseWriter, err error, key, challengeID string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.d.Logger.Error("http_handler_error", zap.String("challenge_id", challengeID), zap.Error(err))
	}
	notice := ""
	if key != "" {
		notice = h.notice(key, map[string]any{"ChallengeID": challengeID, "Reason": err.Error()})
	}
	writeError(w, status, err.Error(), notice)
}

func (h *handlers) notice(key string, data map[string]any) string {
	return h.d.Catalog.Notice(key, data)
}

func (h *handlers) send(userID, challengeID, key string, data map[string]any) {
	if h.d.Notifier == nil || bot.IsBot(userID) {
		return
	}
	n := notify.Notice{Type: key, ChallengeID: challengeID, UserID: userID, Text: h.notice(key, data)}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.d.Notifier.Send(ctx, n); err != nil {
			h.d.Logger.Warn("notice_send_error", zap.String("challenge_id", challengeID), zap.String("key", key), zap.Error(err))
		}
	}()
}
