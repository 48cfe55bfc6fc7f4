// Package admin exposes the migrator over HTTP for operators. Every request
// must carry the operator secret, or a token signed with it, as a bearer
// credential.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/denismitr/schemata"
	"github.com/denismitr/schemata/internal/logger"
)

const (
	Path            = "/admin/migrate"
	OperatorSubject = "operator"
)

var (
	ErrMissingCredential = errors.New("missing bearer credential")
	ErrInvalidCredential = errors.New("invalid bearer credential")
	ErrEmptySecret       = errors.New("operator secret must not be empty")
)

// Migrator is the part of schemata.Migrator the handler drives
type Migrator interface {
	Run(ctx context.Context) (schemata.Report, error)
	Rollback(ctx context.Context) (schemata.Report, error)
	Status(ctx context.Context) (schemata.Status, error)
}

type response struct {
	Success bool             `json:"success"`
	Message string           `json:"message,omitempty"`
	Status  *schemata.Status `json:"status,omitempty"`
	Report  *schemata.Report `json:"report,omitempty"`
}

type errorResponse struct {
	Error   string           `json:"error"`
	Details string           `json:"details,omitempty"`
	Status  *schemata.Status `json:"status,omitempty"`
}

// Handler serves POST (run), GET (status) and DELETE (rollback) on Path
type Handler struct {
	migrator Migrator
	secret   []byte
	lg       logger.Logger
	now      func() time.Time
}

func NewHandler(m Migrator, secret string, lg logger.Logger) (*Handler, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	if lg == nil {
		lg = logger.NullLogger{}
	}

	return &Handler{
		migrator: m,
		secret:   []byte(secret),
		lg:       lg,
		now:      time.Now,
	}, nil
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(Path, h)
	return mux
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r); err != nil {
		h.lg.Warnf("%s %s rejected: %s", r.Method, r.URL.Path, err.Error())
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.run(w, r)
	case http.MethodGet:
		h.status(w, r)
	case http.MethodDelete:
		h.rollback(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	}
}

// run and rollback detach from the request context, a client going away
// must not interrupt a script half way through
func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	report, err := h.migrator.Run(ctx)
	if err != nil {
		h.fail(w, r, "migration failed", err)
		return
	}

	status, err := h.migrator.Status(ctx)
	if err != nil {
		h.fail(w, r, "could not read migration status", err)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Success: true,
		Message: fmt.Sprintf("%d migrations applied", len(report.Applied)),
		Status:  &status,
		Report:  &report,
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.migrator.Status(r.Context())
	if err != nil {
		h.fail(w, r, "could not read migration status", err)
		return
	}

	writeJSON(w, http.StatusOK, response{Success: true, Status: &status})
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	report, err := h.migrator.Rollback(ctx)
	if err != nil && !errors.Is(err, schemata.ErrNothingToRollBack) {
		h.fail(w, r, "rollback failed", err)
		return
	}

	message := "nothing to roll back"
	if len(report.RolledBack) > 0 {
		message = fmt.Sprintf("rolled back %s", strings.Join(report.RolledBack, ", "))
	}

	status, err := h.migrator.Status(ctx)
	if err != nil {
		h.fail(w, r, "could not read migration status", err)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Success: true,
		Message: message,
		Status:  &status,
		Report:  &report,
	})
}

// fail answers with 500 and echoes the status so the operator can see how
// far the migrations got
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.lg.Error(errors.Wrapf(err, "%s %s", r.Method, r.URL.Path))

	resp := errorResponse{Error: msg, Details: err.Error()}
	if status, statusErr := h.migrator.Status(context.WithoutCancel(r.Context())); statusErr == nil {
		resp.Status = &status
	}

	writeJSON(w, http.StatusInternalServerError, resp)
}

func (h *Handler) authorize(r *http.Request) error {
	header := r.Header.Get("Authorization")
	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(credential) == "" {
		return ErrMissingCredential
	}

	credential = strings.TrimSpace(credential)

	if subtle.ConstantTimeCompare([]byte(credential), h.secret) == 1 {
		return nil
	}

	if err := h.verifyToken(credential); err != nil {
		return ErrInvalidCredential
	}

	return nil
}

func (h *Handler) verifyToken(token string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return h.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(OperatorSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.now),
	)

	return err
}

// IssueToken signs a short lived operator token with the operator secret
func IssueToken(secret string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	claims := jwt.RegisteredClaims{
		Subject:   OperatorSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "could not sign operator token")
	}

	return signed, nil
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
