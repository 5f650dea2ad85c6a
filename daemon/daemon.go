// Package daemon wires all components together and serves the HTTP and
// websocket API: console attach for panel users, server provisioning for
// the control plane, Prometheus metrics for operators.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/projecteru2/core/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/engine/docker"
	"github.com/projecteru2/hatchery/gc"
	"github.com/projecteru2/hatchery/install"
	"github.com/projecteru2/hatchery/panel"
	"github.com/projecteru2/hatchery/registry"
	"github.com/projecteru2/hatchery/session"
)

// Daemon owns the component graph and the HTTP server.
type Daemon struct {
	conf      *config.Config
	eng       engine.Engine
	reg       *registry.Registry
	panel     *panel.Client
	hub       *session.Hub
	installer *install.Installer
	sweeper   *gc.Sweeper
	sessions  *session.Handler

	srv *http.Server
}

// New builds the full component graph from configuration.
func New(conf *config.Config) (*Daemon, error) {
	if err := conf.EnsureDirs(); err != nil {
		return nil, err
	}

	eng, err := docker.New(conf.StopTimeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	reg := registry.New(conf)
	pc := panel.New(conf.Panel, conf.PanelToken)
	hub := session.NewHub(eng)

	installer, err := install.New(conf, eng, pc, reg, hub)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		conf:      conf,
		eng:       eng,
		reg:       reg,
		panel:     pc,
		hub:       hub,
		installer: installer,
		sweeper:   gc.New(eng, reg, installer),
		sessions:  session.NewHandler(hub, eng, reg, pc),
	}
	d.srv = &http.Server{
		Addr:        conf.Listen,
		Handler:     d.router(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return d, nil
}

func (d *Daemon) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Console sessions authenticate per-connection with panel-signed tokens.
	r.Get("/v1/console", d.sessions.ServeWS)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/healthz", d.handleHealth)

	// Provisioning endpoints are for the control plane only.
	r.Group(func(r chi.Router) {
		r.Use(d.authPanel)
		r.Get("/v1/servers", d.handleList)
		r.Post("/v1/servers", d.handleCreate)
		r.Route("/v1/servers/{id}", func(r chi.Router) {
			r.Get("/", d.handleInspect)
			r.Delete("/", d.handleDelete)
			r.Post("/reinstall", d.handleReinstall)
		})
	})
	return r
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully. A GC sweep runs before the listener opens so stale install
// containers from a previous run never outlive the restart.
func (d *Daemon) Serve(ctx context.Context) error {
	logger := log.WithFunc("daemon.Serve")

	if err := d.sweeper.Run(ctx); err != nil {
		logger.Warnf(ctx, "startup sweep: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof(ctx, "listening on %s", d.conf.Listen)
		errCh <- d.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infof(ctx, "shutting down")
	d.installer.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// authPanel guards provisioning endpoints with the shared panel token.
func (d *Daemon) authPanel(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.conf.PanelToken == "" || r.Header.Get("Authorization") != "Bearer "+d.conf.PanelToken {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
