package app

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	bidrepo "agrimarket/internal/bid"
	bookingrepo "agrimarket/internal/booking"
	croprepo "agrimarket/internal/crop"
	doctorrepo "agrimarket/internal/plantdoctor"
	sessionrepo "agrimarket/internal/session"
	ticketrepo "agrimarket/internal/ticket"
	"agrimarket/pkg/bid"
	"agrimarket/pkg/booking"
	"agrimarket/pkg/config"
	"agrimarket/pkg/crop"
	"agrimarket/pkg/httpapi"
	"agrimarket/pkg/plantdoctor"
	"agrimarket/pkg/session"
	"agrimarket/pkg/sweeper"
	"agrimarket/pkg/ticket"
)

const (
	shutdownTimeout = 5 * time.Second
	hubBuffer       = 32
)

func (a *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lggr, err := a.load()
			if err != nil {
				return err
			}
			defer func() { _ = lggr.Sync() }()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, lggr)
		},
	}
}

// serve runs until ctx is cancelled or a listener fails.
func serve(ctx context.Context, cfg *config.Config, lggr *zap.SugaredLogger) error {
	db, err := openDB(ctx, cfg, lggr)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, closeAll, err := buildServices(ctx, cfg, db, lggr)
	if err != nil {
		return err
	}
	defer closeAll()

	handler := httpapi.New(svc, lggr).Handler()
	servers, err := httpServers(cfg, handler)
	if err != nil {
		return err
	}
	sw := sweeper.New(svc.Bids, svc.Bookings, svc.Sessions, cfg.GetSweepInterval(), lggr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sw.Run(gctx) })
	for _, srv := range servers {
		g.Go(func() error {
			lggr.Infow("listening", "addr", srv.Addr, "tls", srv.TLSConfig != nil)
			var err error
			if srv.TLSConfig != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s stopped unexpectedly: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		lggr.Info("servers stopped")
		return errors.Join(errs...)
	})
	return g.Wait()
}

// buildServices wires repositories into the domain services. closeAll stops their goroutines.
func buildServices(ctx context.Context, cfg *config.Config, db *sqlx.DB, lggr *zap.SugaredLogger) (httpapi.Services, func(), error) {
	pricing, err := booking.PricingFromConfig(cfg.Pricing)
	if err != nil {
		return httpapi.Services{}, nil, fmt.Errorf("invalid pricing: %w", err)
	}

	var advisor plantdoctor.Advisor
	if cfg.PlantDoctor.APIKey != "" {
		gen, err := plantdoctor.NewGenAIAdvisor(ctx, cfg.PlantDoctor.APIKey, cfg.PlantDoctor.Model, lggr)
		if err != nil {
			return httpapi.Services{}, nil, err
		}
		advisor = gen
	} else {
		lggr.Warn("plant doctor disabled: no API key configured")
	}

	hub := ticket.NewHub(hubBuffer, lggr)
	crops := crop.NewService(croprepo.NewRepository(db), lggr)
	svc := httpapi.Services{
		Sessions: session.NewService(sessionrepo.NewRepository(db), cfg.GetSessionTTL(), lggr),
		Bookings: booking.NewService(bookingrepo.NewRepository(db), pricing, lggr),
		Crops:    crops,
		Bids: bid.NewService(bidrepo.NewRepository(db), crops, bid.Rules{
			MinIncrement: cfg.GetMinIncrement(),
			MaxDuration:  cfg.GetAuctionMaxDuration(),
		}, lggr),
		Tickets:     ticket.NewService(ticketrepo.NewRepository(db), hub, lggr),
		Hub:         hub,
		PlantDoctor: plantdoctor.NewService(doctorrepo.NewRepository(db), advisor, lggr),
	}
	closeAll := func() {
		svc.Sessions.Close()
		svc.Bookings.Close()
		svc.Crops.Close()
		svc.Bids.Close()
		svc.Tickets.Close()
		hub.Close()
	}
	return svc, closeAll, nil
}

// httpServers returns the plain listener, or HTTPS on 443 plus a redirect on 80 when a domain is set.
func httpServers(cfg *config.Config, handler http.Handler) ([]*http.Server, error) {
	if cfg.Server.Domain == "" {
		return []*http.Server{{
			Addr:         ":" + strconv.Itoa(cfg.Server.Port),
			Handler:      handler,
			ReadTimeout:  cfg.GetReadTimeout(),
			WriteTimeout: cfg.GetWriteTimeout(),
			IdleTimeout:  cfg.GetIdleTimeout(),
		}}, nil
	}

	domain := cfg.Server.Domain
	cert, err := generateCertificate(domain)
	if err != nil {
		return nil, fmt.Errorf("unable to generate certificate: %w", err)
	}
	https := &http.Server{
		Addr:         ":443",
		Handler:      handler,
		TLSConfig:    &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12},
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  cfg.GetIdleTimeout(),
	}
	redirect := &http.Server{
		Addr:              ":80",
		Handler:           redirectHandler(domain),
		ReadHeaderTimeout: cfg.GetReadTimeout(),
	}
	return []*http.Server{https, redirect}, nil
}

func redirectHandler(domain string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+domain+r.URL.RequestURI(), http.StatusPermanentRedirect)
	})
}

// generateCertificate issues an ephemeral self-signed certificate for domain.
func generateCertificate(domain string) (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: domain},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
		DNSNames:     []string{domain},
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
