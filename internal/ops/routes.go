package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mycelium/internal/task"
	"mycelium/internal/task/engine"
	"mycelium/internal/task/scheduler"
	logx "mycelium/pkg/logx"
)

// TaskLister reads the pending ledger rows.
type TaskLister interface {
	AllPending(ctx context.Context) ([]task.DeferredTask, error)
}

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sources are the read-only views the server exposes. Nil fields disable
// the matching endpoint.
type Sources struct {
	Ready     func() bool
	Storage   Pinger
	Tasks     TaskLister
	Scheduler func() scheduler.Snapshot
	Engine    func() engine.Snapshot
	Events    func() map[string]uint64
	Now       func() time.Time
}

type pendingTask struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Scope     string    `json:"guild_scope,omitempty"`
	Target    string    `json:"target_id"`
	Requester string    `json:"requester_id"`
	Handler   string    `json:"handler"`
	CreatedAt time.Time `json:"created_at"`
	DueAt     time.Time `json:"due_at"`
	Remaining int64     `json:"remaining_seconds"`
}

// NewRouter builds the chi handler tree.
func NewRouter(cfg Config, src Sources, log logx.Logger) http.Handler {
	if src.Now == nil {
		src.Now = time.Now
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, requestLog(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))

		r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
			if src.Ready != nil && !src.Ready() {
				http.Error(w, "starting", http.StatusServiceUnavailable)
				return
			}
			if src.Storage != nil {
				ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
				defer cancel()
				if err := src.Storage.Ping(ctx); err != nil {
					http.Error(w, "storage: "+err.Error(), http.StatusServiceUnavailable)
					return
				}
			}
			_, _ = w.Write([]byte("ready"))
		})

		r.Handle("/metrics", promhttp.Handler())

		if src.Tasks != nil {
			r.Get("/tasks", func(w http.ResponseWriter, req *http.Request) {
				rows, err := src.Tasks.AllPending(req.Context())
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				now := src.Now()
				out := make([]pendingTask, 0, len(rows))
				for _, t := range rows {
					out = append(out, pendingTask{
						ID:        t.ID,
						Kind:      t.Kind,
						Scope:     t.GuildScope,
						Target:    t.TargetID,
						Requester: t.RequesterID,
						Handler:   t.Handler.String(),
						CreatedAt: t.CreatedAt,
						DueAt:     t.DueAt,
						Remaining: int64(t.Remaining(now) / time.Second),
					})
				}
				writeJSON(w, http.StatusOK, map[string]any{"now": now, "pending": out})
			})
		}
		if src.Scheduler != nil {
			r.Get("/scheduler", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, src.Scheduler())
			})
		}
		if src.Engine != nil {
			r.Get("/engine", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, src.Engine())
			})
		}
		if src.Events != nil {
			r.Get("/events", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, src.Events())
			})
		}
		if cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("token"); got != "" {
				if got == tok {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}
			const p = "Bearer "
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("ops request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("dur", time.Since(start)),
				logx.String("rid", middleware.GetReqID(r.Context())),
			)
		})
	}
}
