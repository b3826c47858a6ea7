package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"iplfleet/services/scheduler"
)

// RouterOptions tunes the outer middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	// Tracing wraps the router when OTLP export is configured.
	Tracing func(http.Handler) http.Handler
	// Health reports backend reachability for /healthz. Nil means the
	// endpoint only proves the process is serving.
	Health func(ctx context.Context) error
}

// Routes constructs the chi router containing all console endpoints.
func (c *Console) Routes(opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowed := opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))
	r.Use(httprate.Limit(100, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				respondError(w, http.StatusServiceUnavailable, err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/deployments", c.handleRunDeployment)
		r.Post("/dryrun", c.handleDryRun)
		r.Post("/schedules", c.handleScheduleTask)
		r.Get("/schedules", c.handleListSchedules)
		r.Delete("/schedules", c.handleClearSchedules)
		r.Post("/ingest", c.handleIngest)
	})

	if opts.Tracing != nil {
		return opts.Tracing(r)
	}
	return r
}

func (c *Console) handleRunDeployment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LparIDs []uuid.UUID `json:"lpar_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.LparIDs) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("lpar_ids is required"))
		return
	}

	// The run outlives the request; progress flows through the sink.
	handle := c.deployer.Launch(context.WithoutCancel(r.Context()), req.LparIDs)
	go func() {
		results, err := handle.Wait(context.Background())
		if err != nil {
			c.log.Error().Err(err).Msg("deployment run failed")
			return
		}
		c.log.Info().Int("hosts", len(results)).Msg("deployment run settled")
	}()

	respondJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (c *Console) handleDryRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hostname string `json:"hostname"`
		Username string `json:"username"`
		Dataset  string `json:"dataset"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Hostname == "" || req.Username == "" || req.Dataset == "" {
		respondError(w, http.StatusBadRequest, errors.New("hostname, username and dataset are required"))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		res := c.dryrun.Run(ctx, req.Hostname, req.Username, req.Dataset)
		c.log.Info().Str("host", req.Hostname).Interface("result", res).Msg("dry run settled")
	}()

	respondJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (c *Console) handleScheduleTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LparID     uuid.UUID `json:"lpar_id"`
		Time       string    `json:"time"`
		DayOfWeek  string    `json:"day_of_week"`
		CancelJobs bool      `json:"cancel_jobs"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.LparID == uuid.Nil {
		respondError(w, http.StatusBadRequest, errors.New("lpar_id is required"))
		return
	}

	raw := strings.TrimSpace(req.Time)
	if req.DayOfWeek != "" {
		raw = req.DayOfWeek + " " + raw
	}
	spec, err := scheduler.ParseSpec(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	target, err := c.targets.ByID(r.Context(), req.LparID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("lpar %s not found", req.LparID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	ids := []uuid.UUID{target.ID}
	task := func(ctx context.Context) error {
		_, err := c.deployer.Launch(ctx, ids).Wait(ctx)
		return err
	}
	if err := c.sched.Schedule(target.Lpar, fmt.Sprintf("deploy %s", target.Hostname), spec, task, req.CancelJobs); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"tag": target.Lpar})
}

func (c *Console) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"jobs": c.sched.Jobs()})
}

func (c *Console) handleClearSchedules(w http.ResponseWriter, r *http.Request) {
	if tag := strings.TrimSpace(r.URL.Query().Get("tag")); tag != "" {
		c.sched.Clear(tag)
	} else {
		c.sched.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Console) handleIngest(w http.ResponseWriter, r *http.Request) {
	sysnames, err := c.ingest.IngestAndClassify(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if sysnames == nil {
		sysnames = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sysnames": sysnames})
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
