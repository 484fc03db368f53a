package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atsn/emily/app"
	"github.com/atsn/emily/dashboard"
	"github.com/atsn/emily/internal/api"
	"github.com/atsn/emily/internal/conversation"
	"github.com/atsn/emily/internal/layout"
)

//go:embed templates
var templatesFS embed.FS

// Pages rendered by the base template.
const (
	pageDashboard = "dashboard"
	pageHistory   = "history"
)

const shutdownTimeout = 5 * time.Second

// PageData is the data of every page.
type PageData struct {
	Title       string
	Page        string
	DisplayName string
	Snapshot    dashboard.Snapshot
	Groups      []*conversation.DateGroup
	Filters     []string
}

// NewServeCmd creates a new serve command
func NewServeCmd(a *app.App) *cobra.Command {
	var opts struct {
		Port int
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard over HTTP",
		Long:  "Serve the dashboard as HTML, its state as JSON and the client metrics for Prometheus",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			aggregator := a.NewDashboard(layout.NewSelector(layout.Breakpoint))
			aggregator.Start(ctx)

			server, err := New(aggregator, a.Metrics, a.Logger.Named("server"))
			if err != nil {
				return err
			}
			return server.ListenAndServe(ctx, opts.Port)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", a.Config.Server.Port, "Port to serve on")
	return cmd
}

// Server serves the dashboard.
type Server struct {
	aggregator *dashboard.Aggregator
	metrics    *api.Metrics
	logger     *zap.Logger
	tmpl       *template.Template
}

// New parses the templates and returns a server over aggregator. metrics may be nil.
func New(aggregator *dashboard.Aggregator, metrics *api.Metrics, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	funcMap := sprig.HtmlFuncMap()
	funcMap["sender"] = conversation.Sender
	funcMap["preview"] = conversation.Preview

	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templatesFS,
		"templates/*.tmpl",
		"templates/includes/*.tmpl",
		"templates/pages/*.tmpl",
	)
	if err != nil {
		return nil, errors.Wrap(err, "parsing templates")
	}
	return &Server{
		aggregator: aggregator,
		metrics:    metrics,
		logger:     logger,
		tmpl:       tmpl,
	}, nil
}

// Router returns the HTTP handler of the server.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(s.logger))

	router.Get("/", s.handleDashboard)
	router.Get("/history", s.handleHistory)
	router.Post("/theme/toggle", s.handleToggleTheme)
	router.Post("/panel/toggle", s.handleTogglePanel)
	router.Post("/filter/{filter}", s.handleSetFilter)
	router.Post("/refresh", s.handleRefresh)
	router.Post("/logout", s.handleLogout)

	router.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/widgets/color", s.handleValidateColor)
		r.Post("/widgets/connection", s.handleConnectionCard)
	})

	if s.metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return router
}

// ListenAndServe serves on port until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		fmt.Printf("Server starting on http://localhost%s\n", httpServer.Addr)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serving")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) render(w http.ResponseWriter, page, title string) {
	snapshot := s.aggregator.Snapshot()
	data := PageData{
		Title:       title,
		Page:        page,
		DisplayName: snapshot.DisplayName(),
		Snapshot:    snapshot,
		Groups:      snapshot.Groups(s.aggregator.Location()),
		Filters:     conversation.Filters,
	}
	if err := s.tmpl.ExecuteTemplate(w, "base", &data); err != nil {
		s.logger.Error("rendering page", zap.String("page", page), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// redirectBack sends the browser to the page that posted the form.
func redirectBack(w http.ResponseWriter, r *http.Request) {
	target := r.Referer()
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
