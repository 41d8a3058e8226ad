package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net"
	"net/http"
	"strconv"

	"github.com/DoyleJ11/battle-sync/internal/battle"
	"github.com/DoyleJ11/battle-sync/internal/qte"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type createBattleRequest struct {
	Code string `json:"code,omitempty"`
}

func (a *API) CreateBattle(w http.ResponseWriter, r *http.Request) {
	var req createBattleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}

	if req.Code != "" {
		if a.hub.Create(r.Context(), req.Code) == nil {
			writeError(w, http.StatusConflict, "battle already exists")
			return
		}
		writeJSON(w, http.StatusCreated, createBattleRequest{Code: req.Code})
		return
	}

	for {
		c, err := GenerateCode()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate code")
			return
		}
		if a.hub.Create(r.Context(), c) != nil {
			writeJSON(w, http.StatusCreated, createBattleRequest{Code: c})
			return
		}
		if err := r.Context().Err(); err != nil {
			return
		}
		a.log.Debug("collision on code, regenerating", zap.String("code", c))
	}
}

type endBattleRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (a *API) EndBattle(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req endBattleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.Reason == "" {
		req.Reason = "ended"
	}
	if !a.hub.Remove(r.Context(), code, req.Reason) {
		writeError(w, http.StatusNotFound, "battle not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// actorKey identifies who is asking for a QTE, for rate limiting.
func actorKey(r *http.Request, code string) string {
	actor := r.Header.Get("X-Actor-ID")
	if actor == "" {
		actor = r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			actor = host
		}
	}
	return code + "/" + actor
}

func (a *API) OpenQTE(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	key := actorKey(r, code)
	if d := a.limiter.Check(key); !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds()+0.5)))
		writeError(w, http.StatusTooManyRequests, "too many failed attempts")
		return
	}

	b := a.hub.Get(r.Context(), code)
	if b == nil {
		writeError(w, http.StatusNotFound, "battle not found")
		return
	}

	var spec qte.Spec
	if err := decodeBody(r, &spec); err != nil {
		a.limiter.RecordFailedAttempt(key)
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}

	cfg, err := b.OpenQTE(r.Context(), spec)
	switch {
	case err == nil:
		a.limiter.Reset(key)
		writeJSON(w, http.StatusCreated, cfg)
	case errors.Is(err, qte.ErrInvalidSpec):
		a.limiter.RecordFailedAttempt(key)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, battle.ErrSessionActive):
		a.limiter.RecordFailedAttempt(key)
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, battle.ErrBattleEnded):
		writeError(w, http.StatusGone, err.Error())
	default:
		a.log.Warn("open qte", zap.String("battle_id", code), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "battle unavailable")
	}
}

// History serves the live battle's results, or the ledger's once the
// battle has ended.
func (a *API) History(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if b := a.hub.Get(r.Context(), code); b != nil {
		results, err := b.History(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, results)
			return
		}
	}

	results, err := a.ledger.List(r.Context(), code)
	if err != nil {
		a.log.Error("list history", zap.String("battle_id", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if len(results) == 0 {
		writeError(w, http.StatusNotFound, "battle not found")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
