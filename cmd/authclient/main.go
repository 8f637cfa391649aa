package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/credentials/store"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("auth client stopped")
	}
	log.Info().Msg("auth client stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("cookiejar.New: %w", err)
	}
	// One http.Client shared by the data and refresh paths so the
	// long-lived session cookie set at login travels with refresh calls.
	httpClient := &http.Client{Timeout: c.GetRequestTimeout(), Jar: jar}

	// Both the session manager and the request wrapper can trigger a
	// refresh; coalescing keeps it to one outstanding exchange.
	refresher := refresh.NewCoalesced(refresh.NewClient(c.GetBaseURL(), refresh.WithHTTPClient(httpClient)))
	apiClient := api.NewClient(c.GetBaseURL(), refresher,
		api.WithHTTPClient(httpClient),
		api.WithLogger(log.Logger),
	)

	manager, err := session.New(apiClient, refresher, store.NewFileRepo(c.GetStatePath()),
		session.WithLogger(log.Logger),
	)
	if err != nil {
		return fmt.Errorf("session.New: %w", err)
	}
	defer manager.Close()

	go watchEvents(manager)

	ctx := context.Background()
	if !manager.Initialize(ctx) {
		email, password := c.GetLoginEmail(), c.GetLoginPassword()
		if email == "" || password == "" {
			return errors.New("no session could be restored and AUTH_EMAIL / AUTH_PASSWORD are not set")
		}
		if err := manager.Login(ctx, email, password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	profile, err := manager.GetProfile(ctx, false)
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	log.Info().
		Str("email", profile.Email).
		Str("full_name", profile.FullName).
		Dur("token_remaining", manager.Remaining()).
		Msg("signed in")

	waitForStopSignal()

	manager.Logout(ctx)
	return nil
}

func watchEvents(manager *session.Manager) {
	for event := range manager.Events() {
		switch event.Type {
		case session.EventStatusChanged:
			log.Info().Str("status", event.Status.String()).Msg("session status changed")
		case session.EventRedirectToLogin:
			log.Warn().Msg("session ended, please log in again")
		}
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
