package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"enquiry-service/internal/config"
	"enquiry-service/internal/factory"
	"enquiry-service/internal/handler"
	"enquiry-service/internal/tls"
	"enquiry-service/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      setupRouter(f),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	tlsManager := tls.NewManager(cfg, util.Named("tls"))
	if tlsManager.Enabled() {
		server.TLSConfig = tlsManager.TLSConfig()
	}

	startServer(f, server, tlsManager, cfg)
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	serviceFactory := f.ServiceFactory()
	enquiryHandler := handler.NewEnquiryHandler(
		serviceFactory.OTPService(),
		serviceFactory.EnquiryService(),
		util.Named("http"),
	)
	return handler.NewRouter(enquiryHandler, f, f.Config(), f.Logger())
}

func startServer(f *factory.Factory, server *http.Server, tlsManager *tls.Manager, cfg *config.Config) {
	servers := []*http.Server{server}

	// ACME http-01 challenges and the HTTPS redirect
	if tlsManager.AutoCert() {
		challengeServer := &http.Server{
			Addr:              ":80",
			Handler:           tlsManager.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, challengeServer)
		go func() {
			util.Info("Starting ACME challenge server on port 80")
			if err := challengeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				util.Error("ACME challenge server failed", util.ErrorField(err))
			}
		}()
	}

	go func() {
		var err error
		if tlsManager.Enabled() {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	if tlsManager.Enabled() {
		util.Info("Server started successfully",
			util.String("environment", cfg.Environment),
			util.Bool("tls_enabled", true),
			util.Bool("auto_cert", tlsManager.AutoCert()),
			util.String("address", server.Addr),
			util.String("base_path", cfg.Server.BasePath),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
			util.String("base_path", cfg.Server.BasePath),
		)
	}

	waitForShutdown(f, servers...)
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}

	// waits for in-flight notifications before releasing clients
	f.Close()
}
