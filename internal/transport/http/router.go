package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"quizzana/internal/app"
	"quizzana/internal/metrics"
)

// RouterConfig carries the services exposed over HTTP.
type RouterConfig struct {
	Auth      *app.AuthService
	Authoring *app.AuthoringService
	Rooms     *app.RoomService
	Results   *app.ResultsService
	Metrics   *metrics.Metrics
	Log       logrus.FieldLogger
	// Health reports backend readiness; nil means always healthy.
	Health         func(ctx context.Context) error
	AllowedOrigins []string
}

// Handler serves the REST API.
type Handler struct {
	auth      *app.AuthService
	authoring *app.AuthoringService
	rooms     *app.RoomService
	results   *app.ResultsService
	log       logrus.FieldLogger
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &Handler{
		auth:      cfg.Auth,
		authoring: cfg.Authoring,
		rooms:     cfg.Rooms,
		results:   cfg.Results,
		log:       cfg.Log,
	}
	ws := NewWSHandler(cfg.Rooms, cfg.Auth, cfg.Metrics, cfg.Log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(cfg.Log, cfg.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				cfg.Log.WithError(err).Warn("health check")
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unhealthy"})
				return
			}
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", cfg.Metrics.Handler())

	optional := authenticate(cfg.Auth, cfg.Log, false)
	required := authenticate(cfg.Auth, cfg.Log, true)

	// Player-facing routes; a token is read when present.
	r.Group(func(r chi.Router) {
		r.Use(optional)
		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)
		r.Get("/join", h.resolveJoinLink)
		r.Post("/rooms/join", h.joinRoom)
		r.Get("/rooms/{roomID}", h.roomState)
		r.Post("/rooms/{roomID}/leave", h.leaveRoom)
		r.Post("/rooms/{roomID}/answers", h.submitAnswer)
		r.Get("/rooms/{roomID}/results", h.roomResults)
	})
	r.Get("/ws/rooms/{roomID}", ws.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(required)
		r.Get("/auth/me", h.me)
		r.Post("/auth/logout", h.logout)
		r.Get("/dashboard", h.dashboard)

		r.Get("/categories", h.listCategories)
		r.Post("/categories", h.createCategory)

		r.Route("/questions", func(r chi.Router) {
			r.Get("/", h.listQuestions)
			r.Post("/", h.createQuestion)
			r.Get("/{questionID}", h.getQuestion)
			r.Put("/{questionID}", h.updateQuestion)
			r.Delete("/{questionID}", h.deleteQuestion)
		})

		r.Route("/quizzes", func(r chi.Router) {
			r.Get("/", h.listQuizzes)
			r.Post("/", h.createQuiz)
			r.Get("/{quizID}", h.getQuiz)
			r.Put("/{quizID}", h.updateQuiz)
			r.Delete("/{quizID}", h.deleteQuiz)
			r.Patch("/{quizID}/active", h.setQuizActive)
			r.Get("/{quizID}/qr.png", h.quizQRCode)
			r.Get("/{quizID}/last-room", h.lastRoom)
			r.Post("/{quizID}/rooms", h.createRoom)
		})

		r.Post("/rooms/{roomID}/start", h.startRoom)
		r.Post("/rooms/{roomID}/advance", h.advanceRoom)
		r.Post("/rooms/{roomID}/finish", h.finishRoom)
		r.Get("/rooms/{roomID}/results.xlsx", h.exportResults(app.ExportXLSX))
		r.Get("/rooms/{roomID}/results.csv", h.exportResults(app.ExportCSV))
	})

	return r
}
