package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/mapnimbus/internal/errors"
	"github.com/3leaps/mapnimbus/pkg/identity"
	"github.com/3leaps/mapnimbus/pkg/maps"
)

// SignIn is the hosted sign-in flow the login view drives.
type SignIn interface {
	AuthCodeURL(state string) (link string, usedState string)
	Redeem(ctx context.Context, state, code string) (*identity.User, error)
}

// LoginOptions configures a LoginView.
type LoginOptions struct {
	SignIn        SignIn
	Sessions      *identity.Sessions
	CookieName    string
	SecureCookies bool
	Provider      maps.CloudProvider
	Logger        *zap.Logger
}

// LoginView serves the login pages. The callback page notifies the window
// that opened it with postMessage({success}) at its own origin.
type LoginView struct {
	opts LoginOptions
}

// NewLoginView creates a LoginView.
func NewLoginView(opts LoginOptions) (*LoginView, error) {
	if opts.SignIn == nil {
		return nil, fmt.Errorf("login view: sign-in flow is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("login view: sessions are required")
	}
	if opts.CookieName == "" {
		return nil, fmt.Errorf("login view: cookie name is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &LoginView{opts: opts}, nil
}

var resultPage = template.Must(template.New("login").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<p>{{.Message}}</p>
<script>
(function () {
  var result = {success: {{.Success}}};
  if (window.opener) {
    window.opener.postMessage(result, location.origin);
    window.close();
  }
})();
</script>
</body>
</html>
`))

type resultData struct {
	Title   string
	Message string
	Success bool
}

// stateCookieTTL bounds how long a browser may take to finish sign-in.
const stateCookieTTL = 10 * time.Minute

// Start redirects to the identity service, carrying the state query
// parameter through the flow. The state is pinned to the browser with a
// cookie that Callback checks.
func (v *LoginView) Start(w http.ResponseWriter, r *http.Request) {
	link, state := v.opts.SignIn.AuthCodeURL(r.URL.Query().Get("state"))
	v.setStateCookie(w, state, int(stateCookieTTL/time.Second))
	v.opts.Logger.Debug("Starting sign-in", zap.String("state", state))
	http.Redirect(w, r, link, http.StatusFound)
}

// Callback redeems the authorization code, sets the session cookie and
// renders the result page.
func (v *LoginView) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	started := v.startedHere(r, q.Get("state"))
	v.setStateCookie(w, "", -1)
	if !started {
		v.opts.Logger.Warn("Sign-in callback without a matching state cookie")
		v.render(w, http.StatusUnauthorized, resultData{Title: "Sign-in failed", Message: "Sign-in was not started in this browser."})
		return
	}
	if e := q.Get("error"); e != "" {
		v.opts.Logger.Warn("Sign-in rejected by identity service",
			zap.String("error", e), zap.String("description", q.Get("error_description")))
		v.render(w, http.StatusUnauthorized, resultData{Title: "Sign-in failed", Message: "Sign-in was not completed."})
		return
	}

	user, err := v.opts.SignIn.Redeem(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		v.opts.Logger.Warn("Sign-in failed", zap.Error(err))
		v.render(w, http.StatusUnauthorized, resultData{Title: "Sign-in failed", Message: "Sign-in was not completed."})
		return
	}

	token, err := v.opts.Sessions.Issue(*user)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "issuing session"))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     v.opts.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(v.opts.Sessions.TTL() / time.Second),
		HttpOnly: true,
		Secure:   v.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	v.opts.Logger.Info("User signed in", zap.String("user_id", user.ID))
	v.render(w, http.StatusOK, resultData{Title: "Signed in", Message: "Signed in as " + user.Username + ". You can close this window.", Success: true})
}

// Logout signs the caller out and clears the session cookie. Signing out
// without a session succeeds.
func (v *LoginView) Logout(w http.ResponseWriter, r *http.Request) {
	clearCookie := func() {
		http.SetCookie(w, &http.Cookie{
			Name:     v.opts.CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   v.opts.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	clearCookie()
	if v.opts.Provider != nil {
		err := v.opts.Provider.Logout(r.Context(), nil)
		if err != nil && !errors.Is(err, identity.ErrNotSignedIn) {
			respondWithError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (v *LoginView) stateCookieName() string { return v.opts.CookieName + "_state" }

func (v *LoginView) setStateCookie(w http.ResponseWriter, state string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     v.stateCookieName(),
		Value:    state,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   v.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// startedHere reports whether r carries the state cookie Start set for state.
func (v *LoginView) startedHere(r *http.Request, state string) bool {
	c, err := r.Cookie(v.stateCookieName())
	if err != nil || c.Value == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) == 1
}

func (v *LoginView) render(w http.ResponseWriter, status int, data resultData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := resultPage.Execute(w, data); err != nil {
		v.opts.Logger.Warn("Rendering login page failed", zap.Error(err))
	}
}
