package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/mariukha/CoopManager/pkg/httputil"
	"github.com/mariukha/CoopManager/pkg/httputil/middleware"
	"go.uber.org/zap"
)

const (
	adminLoginSQL = `SELECT id, login FROM uzytkownicy WHERE login = $1 AND haslo = $2`

	residentLoginSQL = `SELECT c.id_czlonka, c.imie, c.nazwisko, c.email, m.id_mieszkania, m.numer::text, b.adres
  FROM czlonek c
  JOIN mieszkanie m ON c.id_mieszkania = m.id_mieszkania
  JOIN budynek b ON m.id_budynku = b.id_budynku
 WHERE LOWER(c.email) = LOWER($1)
   AND m.numer::text = $2`
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"haslo"`
}

type residentLoginRequest struct {
	Email  string `json:"email"`
	Number string `json:"numer"`
}

type adminUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type residentUser struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"imie"`
	LastName    string `json:"nazwisko"`
	Email       string `json:"email"`
	ApartmentID int64  `json:"apt_id"`
	Apartment   string `json:"apt_num"`
	Address     string `json:"adres"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.BindOrError(r, w, &req); err != nil {
		return
	}
	if err := required("login", req.Login, "haslo", req.Password); err != nil {
		httputil.ServerError(w, r, err)
		return
	}

	var user adminUser
	err := s.db.QueryRow(r.Context(), adminLoginSQL, req.Login, req.Password).Scan(&user.ID, &user.Login)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.Logger(r).Info("admin login rejected", zap.String("login", req.Login))
		httputil.Error(w, http.StatusUnauthorized, "Nieprawidłowe dane logowania")
		return
	}
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}

	s.loggedIn(w, r, user, user.Login, middleware.RoleAdmin, 0)
}

func (s *Server) loginResident(w http.ResponseWriter, r *http.Request) {
	var req residentLoginRequest
	if err := httputil.BindOrError(r, w, &req); err != nil {
		return
	}
	if err := required("email", req.Email, "numer", req.Number); err != nil {
		httputil.ServerError(w, r, err)
		return
	}

	var u residentUser
	err := s.db.QueryRow(r.Context(), residentLoginSQL, req.Email, req.Number).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.ApartmentID, &u.Apartment, &u.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.Logger(r).Info("resident login rejected", zap.String("email", req.Email))
		httputil.Error(w, http.StatusUnauthorized, "Nie znaleziono mieszkańca z podanym emailem i numerem mieszkania")
		return
	}
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}

	s.loggedIn(w, r, u, strconv.FormatInt(u.ID, 10), middleware.RoleResident, u.ApartmentID)
}

// loggedIn answers a successful login, with a bearer token when signing is
// configured.
func (s *Server) loggedIn(w http.ResponseWriter, r *http.Request, user any, subject, role string, aptID int64) {
	middleware.AddLogFields(r, zap.String("role", role), zap.String("sub", subject))
	body := map[string]any{"success": true, "user": user}

	if s.opts.Tokens != nil {
		token, exp, err := s.opts.Tokens.Issue(subject, role, aptID)
		if err != nil {
			httputil.ServerError(w, r, err)
			return
		}
		body["token"] = token
		body["expires_at"] = exp.UTC().Format(timestampLayout)
	}
	httputil.JSON(w, http.StatusOK, body)
}
