package routes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/victorjacobs/go-vallox/state"
	"github.com/victorjacobs/go-vallox/vallox"
)

// ServiceType is the mDNS service the HTTP API is advertised as.
const ServiceType = "_vallox._tcp"

// NewRouter wires the HTTP API. metrics may be nil.
func NewRouter(store *state.Store, registry *vallox.Registry, metrics http.Handler) *httprouter.Router {
	router := httprouter.New()
	router.GET("/state", State(store, registry))
	router.GET("/state/:id", Entity(store, registry))
	if metrics != nil {
		router.Handler(http.MethodGet, "/metrics", metrics)
	}
	return router
}

// Serve runs the HTTP server on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Infof("HTTP API listening on %v", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Advertise announces the HTTP API over mDNS. The returned function stops
// the announcement.
func Advertise(instance, addr string, txt []string) (func(), error) {
	port, err := listenPort(addr)
	if err != nil {
		return nil, err
	}

	server, err := zeroconf.Register(instance, ServiceType, "local", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	log.Infof("Advertising %v as %v on port %d", instance, ServiceType, port)

	return server.Shutdown, nil
}

func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("listen address %q: invalid port", addr)
	}
	return port, nil
}
