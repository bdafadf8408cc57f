package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rojaria/smartcart/internal/auth/config"
	"github.com/rojaria/smartcart/internal/state"
	"github.com/rojaria/smartcart/internal/token"
)

type Auth interface {
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	Middleware(h http.HandlerFunc) http.HandlerFunc
}

const (
	UserCodeKey     = "X-User-Code"
	cookieUserToken = "smartcartUserToken"
)

type auth struct {
	cfg   config.Config
	store *state.Store
}

func NewAuth(cfg config.Config, store *state.Store) Auth {
	return &auth{cfg: cfg, store: store}
}

type credentialsJSON struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenJSONResponse struct {
	Success bool   `json:"success"`
	UID     string `json:"uid"`
	Token   string `json:"token"`
}

func (a *auth) Register(w http.ResponseWriter, r *http.Request) {
	var creds credentialsJSON
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if creds.Login == "" || creds.Password == "" {
		http.Error(w, "login and password required", http.StatusBadRequest)
		return
	}

	uid, err := a.store.UserRegister(creds.Login, creds.Password)
	if err != nil {
		if errors.Is(err, state.ErrAlreadyExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.writeToken(w, uid)
}

func (a *auth) Login(w http.ResponseWriter, r *http.Request) {
	var creds credentialsJSON
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	uid, err := a.store.UserLogin(creds.Login, creds.Password)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.writeToken(w, uid)
}

func (a *auth) writeToken(w http.ResponseWriter, uid string) {
	signed, err := token.BuildJWT(uid, a.cfg.TokenSecret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieUserToken,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenJSONResponse{Success: true, UID: uid, Token: signed})
}

// Middleware verifies the caller's token and stashes the uid claim in the
// request header for downstream handlers. This is the explicit authorization
// claim the payment flow checks order ownership against.
func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userCode, err := a.getUserCode(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		r.Header.Set(UserCodeKey, userCode)

		h.ServeHTTP(w, r)
	}
}

func (a *auth) getUserCode(r *http.Request) (string, error) {
	tokenString := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		tokenString = strings.TrimPrefix(header, "Bearer ")
	} else if tokenCookie, err := r.Cookie(cookieUserToken); err == nil {
		tokenString = tokenCookie.Value
	}
	if tokenString == "" {
		return "", token.ErrInvalidToken
	}

	return token.GetUserCode(tokenString, a.cfg.TokenSecret)
}
