package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ilovetoast/brandlens/internal/api/handlers"
	"github.com/ilovetoast/brandlens/internal/api/middleware"
	"github.com/ilovetoast/brandlens/internal/asset"
	"github.com/ilovetoast/brandlens/internal/audit"
	"github.com/ilovetoast/brandlens/internal/brand"
	"github.com/ilovetoast/brandlens/internal/cache"
	"github.com/ilovetoast/brandlens/internal/config"
	"github.com/ilovetoast/brandlens/internal/embeddingstore"
	"github.com/ilovetoast/brandlens/internal/incident"
	"github.com/ilovetoast/brandlens/internal/queue"
	"github.com/ilovetoast/brandlens/internal/scoring"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	// Health endpoints (no tenant scoping)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Initialize services
	assetRepo := asset.NewRepo(rt.db)
	auditSvc := audit.NewService(rt.db)
	incidentSvc := incident.NewService(rt.db)
	queueClient := queue.NewClient(rt.cfg.Redis)
	centroidCache := cache.NewCache(rt.redis)
	brandSvc := brand.NewService(rt.db, centroidCache)
	scoreStore := scoring.NewPgScoreStore(rt.db)
	embedStore := embeddingstore.NewPgStore(rt.db)
	engine := scoring.NewEngine(assetRepo, brandSvc, embedStore, scoreStore,
		centroidCache, auditSvc, scoring.DefaultOptions())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.TenantContext)

		assetH := handlers.NewAssetHandler(assetRepo, queueClient, engine, scoreStore, auditSvc)
		r.Route("/assets", func(r chi.Router) {
			r.Get("/{id}", assetH.Get)
			r.Post("/{id}/analyze", assetH.Analyze)
			r.Post("/{id}/reanalyze", assetH.Reanalyze)
			r.Post("/{id}/thumbnail-complete", assetH.ThumbnailComplete)
			r.Get("/{id}/score", assetH.Score)
		})

		brandH := handlers.NewBrandHandler(brandSvc)
		r.Route("/brands", func(r chi.Router) {
			r.Get("/{id}/model", brandH.GetModel)
			r.Post("/{id}/model/versions", brandH.CreateVersion)
			r.Get("/{id}/references", brandH.ListReferences)
			r.Post("/{id}/references", brandH.AddReference)
			r.Delete("/{id}/references/{refID}", brandH.DeleteReference)
		})

		incidentH := handlers.NewIncidentHandler(incidentSvc)
		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", incidentH.ListOpen)
			r.Post("/{id}/resolve", incidentH.Resolve)
		})

		adminH := handlers.NewAdminHandler(queueClient)
		r.Route("/admin", func(r chi.Router) {
			r.Post("/recovery-scan", adminH.TriggerRecoveryScan)
		})
	})

	return r
}
