package router

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/conduit-lang/querycache/internal/orm/crud"
	"github.com/conduit-lang/querycache/internal/orm/query"
	"github.com/conduit-lang/querycache/internal/orm/schema"
	"github.com/conduit-lang/querycache/internal/web/middleware"
	params "github.com/conduit-lang/querycache/internal/web/query"
	"github.com/conduit-lang/querycache/internal/web/response"
)

// RowReader serves paginated reads; *crud.Operations implements it
type RowReader interface {
	Paginate(ctx context.Context, spec *query.QuerySpec, opts crud.PageOptions) (*crud.Page, error)
}

// SchemaStore resolves and forgets table schemas; *schema.Catalog implements it
type SchemaStore interface {
	GetSchema(ctx context.Context, table string) (*schema.TableSchema, error)
	Invalidate(ctx context.Context, table string)
}

// TagInvalidator clears cache tags; *cache.Facade implements it
type TagInvalidator interface {
	InvalidateByTags(ctx context.Context, tags ...string)
}

// Options holds the dependencies of the admin API
type Options struct {
	Rows    RowReader
	Schemas SchemaStore
	Cache   TagInvalidator

	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
	// HealthCheck backs /healthz; nil always reports healthy
	HealthCheck func(ctx context.Context) error
	// RateLimit caps requests per minute per client IP; zero disables it
	RateLimit int

	Logger *zap.Logger
}

type api struct {
	rows    RowReader
	schemas SchemaStore
	cache   TagInvalidator
	health  func(ctx context.Context) error
	logger  *zap.Logger
}

// NewAPI builds the admin API. Table reads carry weak ETags and answer
// If-None-Match with 304.
//
//	GET    /healthz
//	GET    /metrics
//	GET    /tables/{table}/schema
//	GET    /tables/{table}/rows?page=&limit=&sort=&count=&fields=&filter[col]=
//	DELETE /cache/tags/{tag}
//	DELETE /schema/{table}
func NewAPI(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	a := &api{
		rows:    opts.Rows,
		schemas: opts.Schemas,
		cache:   opts.Cache,
		health:  opts.HealthCheck,
		logger:  logger.Named("http"),
	}

	var limiter *middleware.TokenBucket
	if opts.RateLimit > 0 {
		limiter = middleware.NewTokenBucket(opts.RateLimit, time.Minute)
	}

	r := NewRouter()
	r.Use(
		middleware.RequestID(),
		middleware.Logging(a.logger, "/healthz", "/metrics"),
		middleware.Recovery(a.logger),
		middleware.RateLimit(limiter, a.logger),
	)
	conditional := middleware.ConditionalGET()

	r.Get("/healthz", http.HandlerFunc(a.healthz))
	r.Get("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/tables/{table}/schema", conditional(http.HandlerFunc(a.tableSchema)))
	r.Get("/tables/{table}/rows", conditional(http.HandlerFunc(a.tableRows)))
	r.Delete("/cache/tags/{tag}", http.HandlerFunc(a.invalidateTag))
	r.Delete("/schema/{table}", http.HandlerFunc(a.invalidateSchema))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		response.RenderNotFound(w, fmt.Sprintf("no route for %s", req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		response.RenderError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", req.Method))
	})

	return r
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health(r.Context()); err != nil {
			a.logger.Warn("health check failed", zap.Error(err))
			response.RenderError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	response.RenderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) tableSchema(w http.ResponseWriter, r *http.Request) {
	ts, err := a.schemas.GetSchema(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		response.RenderDomainError(w, err)
		return
	}
	response.RenderJSON(w, http.StatusOK, ts)
}

func (a *api) tableRows(w http.ResponseWriter, r *http.Request) {
	page, err := params.ParsePage(r)
	if err != nil {
		response.RenderBadRequest(w, err.Error())
		return
	}
	orderBy, err := params.OrderBy(params.ParseSort(r))
	if err != nil {
		response.RenderBadRequest(w, err.Error())
		return
	}

	var projection string
	if fields := params.ParseFields(r); len(fields) > 0 {
		projection, err = query.ColumnList(fields)
		if err != nil {
			response.RenderBadRequest(w, err.Error())
			return
		}
	}

	spec := &query.QuerySpec{
		Select: projection,
		Table:  chi.URLParam(r, "table"),
		Where:  params.ParseFilter(r),
	}

	result, err := a.rows.Paginate(r.Context(), spec, crud.PageOptions{
		Page:         page.Page,
		Limit:        page.Limit,
		OrderBy:      orderBy,
		IncludeCount: page.Count,
	})
	if err != nil {
		response.RenderDomainError(w, err)
		return
	}
	response.RenderJSON(w, http.StatusOK, result)
}

func (a *api) invalidateTag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	a.cache.InvalidateByTags(r.Context(), tag)
	a.logger.Info("cache tag invalidated", zap.String("tag", tag))
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) invalidateSchema(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if err := schema.ValidateIdentifier(table); err != nil {
		response.RenderBadRequest(w, err.Error())
		return
	}
	a.schemas.Invalidate(r.Context(), table)
	a.logger.Info("schema invalidated", zap.String("table", table))
	w.WriteHeader(http.StatusNoContent)
}
