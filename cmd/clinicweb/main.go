package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/clinicweb/internal/clinic"
	"github.com/ehr/clinicweb/internal/config"
	"github.com/ehr/clinicweb/internal/form"
	"github.com/ehr/clinicweb/internal/gateway"
	"github.com/ehr/clinicweb/internal/notice"
	"github.com/ehr/clinicweb/internal/session"
	"github.com/ehr/clinicweb/internal/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "clinicweb",
		Short:        "Clinic records client",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(patientsCmd())
	return rootCmd
}

// app is the wiring shared by every command: one session store, one notice
// center and one gateway feeding the clinic client.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   *session.Store
	notices *notice.Center
	client  *clinic.Client
}

func newLogger(dev bool, w io.Writer) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func openApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg.IsDev(), logOut)

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := session.Open(ctx, storage,
		session.WithLogger(logger),
		session.WithStorageTimeout(cfg.SessionTimeout),
	)
	notices := notice.NewCenter(logger)

	g, err := gateway.New(cfg.APIBaseURL,
		gateway.WithTimeout(cfg.RequestTimeout),
		gateway.WithLogger(logger),
		gateway.WithOutbound(gateway.RequestID(), gateway.BearerToken(store)),
		gateway.WithInbound(gateway.SessionExpiry(store, notices)),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("gateway: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		notices: notices,
		client:  clinic.NewClient(g),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// openStorage picks the session backend named by SESSION_BACKEND.
func openStorage(ctx context.Context, cfg *config.Config) (session.Storage, error) {
	switch cfg.SessionBackend {
	case config.BackendMemory:
		return session.NewMemoryStorage(), nil
	case config.BackendFile:
		dir := cfg.SessionPath
		if dir == "" {
			dir = session.DefaultDir()
		}
		return session.NewFileStorage(dir)
	case config.BackendSQLite:
		return session.NewSQLiteStorage(ctx, cfg.SessionPath)
	case config.BackendPostgres:
		return session.NewPostgresStorage(ctx, cfg.SessionDSN, cfg.SessionProfile, cfg.SessionMaxConns)
	}
	return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
}

// printNotices writes and clears whatever the command raised.
func (a *app) printNotices(w io.Writer) {
	for _, n := range a.notices.Drain() {
		fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Message)
	}
}

// withApp runs fn with a freshly opened app and always prints the notices
// it raised.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	err = fn(ctx, a)
	a.printNotices(cmd.OutOrStdout())
	return err
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the clinic front end",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	ctx := context.Background()
	a, err := openApp(ctx, os.Stdout)
	if err != nil {
		logger := newLogger(os.Getenv("ENV") == "development", os.Stdout)
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	srv := web.New(web.Config{
		Client:  a.client,
		Session: a.store,
		Notices: a.notices,
		Logger:  a.logger,
		Backend: a.cfg.SessionBackend,
	})

	// Graceful shutdown
	go func() {
		a.logger.Info().Str("addr", a.cfg.ListenAddr).Str("api", a.cfg.APIBaseURL).Msg("starting server")
		if err := srv.Start(a.cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			a.logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	a.logger.Info().Msg("server stopped")
	return nil
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and keep the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ctl := clinic.NewLoginForm(a.client, a.store, a.notices, a.logger)
				return submitForm(ctx, cmd.OutOrStdout(), ctl, map[string]string{
					"email":    email,
					"password": password,
				})
			})
		},
	}
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				a.store.ClearToken()
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "backend:       %s\n", a.cfg.SessionBackend)
				fmt.Fprintf(out, "api:           %s\n", a.cfg.APIBaseURL)
				if !a.store.IsAuthenticated() {
					fmt.Fprintln(out, "authenticated: false")
					return nil
				}
				fmt.Fprintln(out, "authenticated: true")
				claims, err := session.ParseClaims(a.store.Token())
				if err != nil {
					// Opaque tokens are fine; the server is the judge.
					return nil
				}
				fmt.Fprintf(out, "role:          %d\n", claims.Role)
				if claims.ExpiresAt != nil {
					fmt.Fprintf(out, "expires:       %s\n", claims.ExpiresAt.Time.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func patientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "Read and create patients",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, _ := cmd.Flags().GetInt("page")
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				l := clinic.NewPatientList(a.logger)
				defer l.Close()
				snap := l.Load(ctx, func(ctx context.Context) (clinic.PatientPage, error) {
					return a.client.ListPatients(ctx, page, limit)
				})
				if snap.Err != "" {
					return errors.New(snap.Err)
				}
				out := cmd.OutOrStdout()
				for _, p := range snap.Data.Data {
					fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", p.ID, p.FullName, p.Gender, p.DOB)
				}
				fmt.Fprintf(out, "page %d, limit %d, %d total\n", snap.Data.Page, snap.Data.Limit, snap.Data.CountData)
				return nil
			})
		},
	}
	listCmd.Flags().Int("page", 0, "Page number (server default when 0)")
	listCmd.Flags().Int("limit", 0, "Page size (server default when 0)")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("patient id must be an integer: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				l := clinic.NewPatientDetail(a.logger)
				defer l.Close()
				snap := l.Load(ctx, func(ctx context.Context) (clinic.PatientRecord, error) {
					return a.client.GetPatient(ctx, id)
				})
				if snap.Err != "" {
					return errors.New(snap.Err)
				}
				p := snap.Data
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:      %d\n", p.ID)
				fmt.Fprintf(out, "name:    %s\n", p.FullName)
				fmt.Fprintf(out, "dob:     %s\n", p.DOB)
				fmt.Fprintf(out, "gender:  %s\n", p.Gender)
				fmt.Fprintf(out, "address: %s\n", p.Address)
				fmt.Fprintf(out, "phone:   %s\n", p.Phone)
				return nil
			})
		},
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			values := map[string]string{}
			for _, f := range []string{"name", "dob", "gender", "address", "phone"} {
				values[f], _ = cmd.Flags().GetString(f)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ctl := clinic.NewAddPatientForm(a.client, a.notices, a.logger, time.Now)
				return submitForm(ctx, cmd.OutOrStdout(), ctl, values)
			})
		},
	}
	addCmd.Flags().String("name", "", "Full name")
	addCmd.Flags().String("dob", "", "Date of birth (YYYY-MM-DD)")
	addCmd.Flags().String("gender", "", "Male or Female")
	addCmd.Flags().String("address", "", "Address")
	addCmd.Flags().String("phone", "", "Phone number")

	cmd.AddCommand(listCmd, showCmd, addCmd)
	return cmd
}

var errFormRejected = errors.New("form rejected")

// submitForm fills and submits a form, printing field errors when
// validation blocks it. Server failures are reported through notices.
func submitForm(ctx context.Context, out io.Writer, ctl *form.Controller, values map[string]string) error {
	if err := ctl.Fill(values); err != nil {
		return err
	}
	res, err := ctl.Submit(ctx)
	if err != nil {
		return err
	}
	if res.OK {
		return nil
	}
	if len(res.Errors) > 0 {
		fields := make([]string, 0, len(res.Errors))
		for f := range res.Errors {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(out, "%s: %s\n", f, res.Errors[f])
		}
	}
	return errFormRejected
}
