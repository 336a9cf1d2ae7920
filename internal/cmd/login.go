package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/mapnimbus/internal/observability"
	"github.com/3leaps/mapnimbus/internal/server"
	"github.com/3leaps/mapnimbus/internal/server/handlers"
	"github.com/3leaps/mapnimbus/pkg/identity"
	"github.com/3leaps/mapnimbus/pkg/loginflow"
	"github.com/3leaps/mapnimbus/pkg/maps"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the identity service",
	Long: `Sign in through the hosted login view and save the session for later
commands. The login view is served on server.host:server.port until the
sign-in completes or maps.login_timeout elapses.

Open the printed URL in a browser to continue.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the saved session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}

// printOpener presents the login link on the CLI logger.
func printOpener(logger *zap.Logger) maps.Opener {
	return maps.OpenerFunc(func(ctx context.Context, link string) error {
		logger.Info("Open this URL in a browser to sign in: " + link)
		return nil
	})
}

// saveSessions saves a session token for every sign-in carrying a state and
// then completes the matching login attempt.
func saveSessions(hub *identity.Hub, sessions *identity.Sessions, file identity.SessionFile, logins *loginflow.Registry, logger *zap.Logger) func() {
	return hub.Subscribe(func(ev identity.Event) {
		if ev.Type != identity.EventSignIn || ev.State == "" {
			return
		}
		res := loginflow.Result{Success: true, UserID: ev.User.ID}
		token, err := sessions.Issue(ev.User)
		if err == nil {
			err = file.Save(token)
		}
		if err != nil {
			logger.Error("Failed to save session", zap.Error(err))
			res = loginflow.Result{}
		}
		logins.Complete(ev.State, res)
	})
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if !cfg.Identity.Enabled() {
		return exitError(foundry.ExitInvalidArgument, "Identity issuer not configured",
			errors.New("set identity.issuer (MAPNIMBUS_IDENTITY_ISSUER)"))
	}

	log := observability.CLILogger
	origin := "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	loginPath := "/" + maps.DefaultLoginPath
	if cfg.Identity.RedirectURL == "" {
		cfg.Identity.RedirectURL = origin + loginPath + "/callback"
	}

	st, err := cliStack(ctx, cfg, stackOptions{opener: printOpener(log), origin: origin})
	if err != nil {
		return err
	}
	defer func() { _ = st.store.Close() }()

	signIn, err := newSignIn(ctx, cfg.Identity, st.hub, log)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to reach identity issuer", err)
	}
	view, err := handlers.NewLoginView(handlers.LoginOptions{
		SignIn:     signIn,
		Sessions:   st.sessions,
		CookieName: cfg.Identity.CookieName,
		Provider:   st.provider,
		Logger:     log,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid identity configuration", err)
	}

	file := identity.SessionFile{Path: sessionFilePath(cfg.Identity), Sessions: st.sessions, Hub: st.hub}
	defer saveSessions(st.hub, st.sessions, file, st.logins, log)()

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithLogger(log),
		server.WithLogin(view, loginPath))
	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return exitError(exitGeneralFailure, "Failed to start login view", err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil {
			log.Error("Login view stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err = st.provider.Login(ctx, func() {
		u, err := file.CurrentUserInfo(ctx)
		if err == nil {
			log.Info("Signed in as "+describeUser(u.Username, u.ID), zap.String("session_file", file.Path))
		}
	})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Sign-in failed", err)
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, err := cliStack(ctx, cfg, stackOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = st.store.Close() }()

	err = st.provider.Logout(ctx, func() {
		observability.CLILogger.Info("Signed out")
	})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Sign-out failed", err)
	}
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, err := cliStack(ctx, cfg, stackOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = st.store.Close() }()

	p := st.provider
	if !p.HasAccessToken(ctx) {
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: not signed in\n", p.DisplayName())
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", p.DisplayName(), p.UserName(ctx))
	return err
}
