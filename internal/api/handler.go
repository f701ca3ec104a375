package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"safety-scheduler/internal/idempotency"
	"safety-scheduler/internal/metrics"
	"safety-scheduler/internal/notify"
	"safety-scheduler/internal/scheduler"
	"safety-scheduler/internal/store"
	"safety-scheduler/internal/task"
)

type Handler struct {
	engine   Engine
	messages Messages
	pinger   Pinger
	now      func() time.Time
	refCap   time.Duration
	dedupe   time.Duration
	log      zerolog.Logger
}

type Option func(*Handler)

func WithMessages(m Messages) Option {
	return func(h *Handler) { h.messages = m }
}

func WithPinger(p Pinger) Option {
	return func(h *Handler) { h.pinger = p }
}

func WithLogger(log zerolog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithRefTTLCap bounds the lifetime a reverse reference inherits from its
// job when the request does not give one. Zero leaves it unbounded.
func WithRefTTLCap(max time.Duration) Option {
	return func(h *Handler) { h.refCap = max }
}

// WithDedupeTTL sets how long an idempotency key keeps answering with the
// job it first created.
func WithDedupeTTL(ttl time.Duration) Option {
	return func(h *Handler) { h.dedupe = ttl }
}

func NewHandler(engine Engine, opts ...Option) *Handler {
	h := &Handler{
		engine: engine,
		now:    time.Now,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter wires every route. m and gatherer may be nil, in which case no
// request metrics are recorded and /metrics is not served.
func NewRouter(h *Handler, m *metrics.Metrics, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.observe(m))

	r.POST("/jobs/reserve", h.ReserveJob)
	r.POST("/jobs", h.ScheduleJob)
	r.GET("/jobs/due", h.PeekDue)
	r.GET("/jobs/count", h.CountJobs)
	r.PUT("/jobs/:id", h.CreateJob)
	r.GET("/jobs/:id", h.GetJob)
	r.PATCH("/jobs/:id", h.EditJob)
	r.DELETE("/jobs/:id", h.RemoveJob)
	r.POST("/jobs/:id/pop", h.PopJob)
	r.POST("/jobs/:id/release", h.ReleaseJob)
	r.POST("/jobs/:id/members/:user", h.JoinEvent)
	r.DELETE("/jobs/:id/members/:user", h.LeaveEvent)
	r.POST("/jobs/:id/options", h.ExtendPoll)
	r.GET("/refs/:ref", h.LookupRef)
	r.PUT("/messages/:channel/:message", h.PutMessage)
	r.GET("/healthz", h.Health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (h *Handler) observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.RecordRequest(route, status)
		ev := h.log.Debug()
		if status >= http.StatusInternalServerError {
			ev = h.log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (h *Handler) ReserveJob(c *gin.Context) {
	id, err := h.engine.ReserveID(c.Request.Context())
	if err != nil {
		h.fail(c, err, false)
		return
	}
	c.JSON(http.StatusCreated, JobResponse{JobID: id})
}

func (h *Handler) ReleaseJob(c *gin.Context) {
	if err := h.engine.Release(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err, false)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CreateJob(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidID})
		return
	}
	req, t, ok := h.bindCreate(c)
	if !ok {
		return
	}
	if err := h.engine.Create(c.Request.Context(), t, id, req.DueAt, h.refOptions(req)...); err != nil {
		h.fail(c, err, true)
		return
	}
	c.JSON(http.StatusCreated, JobResponse{JobID: id, DueAt: req.DueAt})
}

func (h *Handler) ScheduleJob(c *gin.Context) {
	key, err := idempotency.Normalize(c.GetHeader(idempotency.Header))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidIdempotencyKey})
		return
	}
	req, t, ok := h.bindCreate(c)
	if !ok {
		return
	}
	opts := h.refOptions(req)
	if key != "" {
		opts = append(opts, scheduler.WithIdempotencyKey(key, h.dedupe))
	}
	id, err := h.engine.Schedule(c.Request.Context(), t, req.DueAt, opts...)
	switch idempotency.Decide(id, err) {
	case idempotency.Created:
		c.JSON(http.StatusCreated, JobResponse{JobID: id, DueAt: req.DueAt})
	case idempotency.Duplicate:
		h.log.Debug().Str("job_id", id).Str("key", key).Msg("idempotent replay")
		c.JSON(http.StatusOK, JobResponse{JobID: id})
	default:
		h.fail(c, err, true)
	}
}

func (h *Handler) GetJob(c *gin.Context) {
	id := c.Param("id")
	t, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, false)
		return
	}
	body := bodyOf(t)
	c.JSON(http.StatusOK, JobResponse{JobID: id, Task: &body})
}

func (h *Handler) EditJob(c *gin.Context) {
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidJSON})
		return
	}
	t, err := req.Task.Task()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidTask, Detail: err.Error()})
		return
	}
	if req.DueAt != nil && *req.DueAt <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidDueAt})
		return
	}
	id := c.Param("id")
	if err := h.engine.Edit(c.Request.Context(), t, id, req.DueAt); err != nil {
		h.fail(c, err, true)
		return
	}
	resp := JobResponse{JobID: id}
	if req.DueAt != nil {
		resp.DueAt = *req.DueAt
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) RemoveJob(c *gin.Context) {
	if err := h.engine.Remove(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err, false)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) PopJob(c *gin.Context) {
	job, err := h.engine.Pop(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, false)
		return
	}
	c.JSON(http.StatusOK, jobResponse(job))
}

func (h *Handler) PeekDue(c *gin.Context) {
	before := h.now().Unix()
	if raw := c.Query("before"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidDueAt, Detail: "before must be unix seconds"})
			return
		}
		before = v
	}
	jobs, err := h.engine.PeekDue(c.Request.Context(), before)
	if err != nil {
		h.fail(c, err, false)
		return
	}
	resp := DueResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, jobResponse(j))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CountJobs(c *gin.Context) {
	n, err := h.engine.Count(c.Request.Context())
	if err != nil {
		h.fail(c, err, false)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Scheduled: n})
}

func (h *Handler) LookupRef(c *gin.Context) {
	id, err := h.engine.LookupRef(c.Request.Context(), c.Param("ref"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrRefNotFound})
			return
		}
		h.fail(c, err, false)
		return
	}
	c.JSON(http.StatusOK, JobResponse{JobID: id})
}

var (
	// errWrongKind aborts an update whose job is not of the kind the route edits.
	errWrongKind       = errors.New("wrong task kind")
	errExtendForbidden = errors.New("poll does not allow extension by this user")
	errTooManyOptions  = errors.New("too many poll options")
)

func (h *Handler) JoinEvent(c *gin.Context)  { h.changeMembers(c, true) }
func (h *Handler) LeaveEvent(c *gin.Context) { h.changeMembers(c, false) }

func (h *Handler) changeMembers(c *gin.Context, join bool) {
	user, err := strconv.ParseUint(c.Param("user"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidID, Detail: "user must be an unsigned integer"})
		return
	}
	id := c.Param("id")
	var changed bool
	t, err := h.engine.Update(c.Request.Context(), id, func(t task.Task) error {
		ev, ok := t.(*task.Event)
		if !ok {
			return errWrongKind
		}
		if join {
			changed = ev.AddMember(user)
		} else {
			changed = ev.RemoveMember(user)
		}
		return nil
	})
	if err != nil {
		h.fail(c, err, true)
		return
	}
	ev := t.(*task.Event)
	members := ev.Members
	if members == nil {
		members = []uint64{}
	}
	c.JSON(http.StatusOK, MembersResponse{
		JobID:    id,
		Members:  members,
		Mentions: ev.MembersAndAuthor(),
		Changed:  changed,
	})
}

// ExtendPoll appends options to a poll and rewrites the stored snapshot of
// its message so the tally sees the new list.
func (h *Handler) ExtendPoll(c *gin.Context) {
	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidJSON})
		return
	}
	var options []string
	for _, o := range req.Options {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}
	if len(options) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidTask, Detail: "at least one option is required"})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	t, err := h.engine.Update(ctx, id, func(t task.Task) error {
		p, ok := t.(*task.Poll)
		if !ok {
			return errWrongKind
		}
		if !p.CanExtend(req.User) {
			return errExtendForbidden
		}
		if len(p.Options)+len(options) > task.MaxPollOptions {
			return fmt.Errorf("%w: poll would have %d options, at most %d allowed",
				errTooManyOptions, len(p.Options)+len(options), task.MaxPollOptions)
		}
		p.Options = append(p.Options, options...)
		return nil
	})
	if err != nil {
		h.fail(c, err, true)
		return
	}
	p := t.(*task.Poll)
	body := p.Render()

	if h.messages != nil {
		view, err := h.messages.Fetch(ctx, p.Channel, p.Message)
		if err != nil && !errors.Is(err, notify.ErrMessageUnavailable) {
			h.fail(c, err, false)
			return
		}
		view.Body = body
		if err := h.messages.Put(ctx, p.Channel, p.Message, view); err != nil {
			h.fail(c, err, true)
			return
		}
	}
	c.JSON(http.StatusOK, ExtendResponse{JobID: id, Options: p.Options, Body: body})
}

func (h *Handler) PutMessage(c *gin.Context) {
	if h.messages == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "messages_disabled"})
		return
	}
	channel, err1 := strconv.ParseUint(c.Param("channel"), 10, 64)
	message, err2 := strconv.ParseUint(c.Param("message"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidID, Detail: "channel and message must be unsigned integers"})
		return
	}
	var view notify.MessageView
	if err := c.ShouldBindJSON(&view); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidJSON})
		return
	}
	if err := h.messages.Put(c.Request.Context(), channel, message, view); err != nil {
		h.fail(c, err, true)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Health(c *gin.Context) {
	if h.pinger != nil {
		if err := h.pinger.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: ErrStoreUnavailable})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) bindCreate(c *gin.Context) (CreateRequest, task.Task, bool) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidJSON})
		return req, nil, false
	}
	t, err := req.Task.Task()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidTask, Detail: err.Error()})
		return req, nil, false
	}
	if req.DueAt <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidDueAt})
		return req, nil, false
	}
	return req, t, true
}

// refOptions maps the request's reference to the job. Without an explicit
// TTL the reference lives until the job is due.
func (h *Handler) refOptions(req CreateRequest) []scheduler.CreateOption {
	if strings.TrimSpace(req.Ref) == "" {
		return nil
	}
	ttl := time.Duration(req.RefTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Unix(req.DueAt, 0).Sub(h.now())
		if h.refCap > 0 && ttl > h.refCap {
			ttl = h.refCap
		}
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return []scheduler.CreateOption{scheduler.WithRef(req.Ref, ttl)}
}

// fail maps store errors to responses. A codec error on a write means the
// caller sent something unencodable; on a read it means stored data is bad.
func (h *Handler) fail(c *gin.Context, err error, write bool) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrJobNotFound})
	case errors.Is(err, store.ErrAlreadyExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: ErrJobExists})
	case errors.Is(err, errWrongKind):
		c.JSON(http.StatusConflict, ErrorResponse{Error: ErrWrongKind})
	case errors.Is(err, errExtendForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: ErrExtendForbidden})
	case errors.Is(err, errTooManyOptions):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidTask, Detail: err.Error()})
	case errors.Is(err, store.ErrCodec):
		status := http.StatusInternalServerError
		if write {
			status = http.StatusBadRequest
		}
		h.log.Warn().Err(err).Str("route", c.FullPath()).Msg("codec failure")
		c.JSON(status, ErrorResponse{Error: ErrCodec})
	case errors.Is(err, store.ErrTransport):
		h.log.Error().Err(err).Str("route", c.FullPath()).Msg("store unavailable")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: ErrStoreUnavailable})
	default:
		h.log.Error().Err(err).Str("route", c.FullPath()).Msg("store error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: ErrStore})
	}
}
