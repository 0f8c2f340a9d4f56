package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"

	"upgradereg/internal/address"
	"upgradereg/internal/contract"
	"upgradereg/internal/ledger"
	"upgradereg/internal/ratelimiter"
)

// CallerHeader names the account a request acts as.
const CallerHeader = "X-Caller"

const maxBodyBytes = 1 << 20

// Backend is the ledger surface the API serves.
type Backend interface {
	Deploy(ctx context.Context, caller address.Address, code string, amount uint64, args contract.Args) (address.Address, error)
	Call(ctx context.Context, caller, target address.Address, method string, amount uint64, args contract.Args) (any, error)
	Spend(ctx context.Context, caller, to address.Address, amount uint64) error
	Snapshot(ctx context.Context) (int, error)
	Rollback(ctx context.Context) error
	Balance(a address.Address) uint64
	Accounts() []address.Address
	Contract(a address.Address) (ledger.ContractInfo, error)
	Codes() []string
}

type Options struct {
	Backend Backend
	Limiter *ratelimiter.MapLimiter
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
	Now     func() time.Time
}

type server struct {
	backend Backend
	limiter *ratelimiter.MapLimiter
	log     *slog.Logger
	now     func() time.Time
}

// NewServer wires the ledger endpoints into a chi router with a health check.
func NewServer(opts Options) http.Handler {
	s := &server{
		backend: opts.Backend,
		limiter: opts.Limiter,
		log:     opts.Logger,
		now:     opts.Now,
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/accounts", s.listAccounts)
		r.Get("/codes", s.listCodes)
		r.Get("/balances/{address}", s.getBalance)
		r.Post("/spend", s.spend)
		r.Post("/contracts", s.deploy)
		r.Get("/contracts/{address}", s.getContract)
		r.Post("/contracts/{address}/calls/{method}", s.call)
		r.Post("/snapshots", s.snapshot)
		r.Post("/snapshots/rollback", s.rollback)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, s.log, &apiError{Status: http.StatusNotFound, Kind: kindNotFound, Err: fmt.Errorf("no route for %s %s", r.Method, r.URL.Path)})
	})
	return r
}

func (s *server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accts := s.backend.Accounts()
	resp := AccountsResponse{Accounts: make([]Account, 0, len(accts))}
	for _, a := range accts {
		resp.Accounts = append(resp.Accounts, Account{Address: a, Balance: s.backend.Balance(a)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) listCodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CodesResponse{Codes: s.backend.Codes()})
}

func (s *server) getBalance(w http.ResponseWriter, r *http.Request) {
	a, err := pathAddress(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Address: a, Balance: s.backend.Balance(a)})
}

func (s *server) spend(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req SpendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	to, err := address.Parse(string(req.To))
	if err != nil {
		writeError(w, s.log, badRequest("to: %v", err))
		return
	}
	if err := s.backend.Spend(r.Context(), caller, to, req.Amount); err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) deploy(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req DeployRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, s.log, badRequest("code is required"))
		return
	}
	addr, err := s.backend.Deploy(r.Context(), caller, req.Code, req.Amount, req.Args)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, DeployResponse{Address: addr})
}

func (s *server) getContract(w http.ResponseWriter, r *http.Request) {
	a, err := pathAddress(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	info, err := s.backend.Contract(a)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *server) call(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	target, err := pathAddress(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var method string
	if err := runtime.BindStyledParameterWithLocation("simple", false, "method", runtime.ParamLocationPath, chi.URLParam(r, "method"), &method); err != nil {
		writeError(w, s.log, badRequest("invalid format for parameter method: %v", err))
		return
	}
	var req CallRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	out, err := s.backend.Call(r.Context(), caller, target, method, req.Amount, req.Args)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	result, err := ledger.EncodeResult(out)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{Result: result})
}

func (s *server) snapshot(w http.ResponseWriter, r *http.Request) {
	depth, err := s.backend.Snapshot(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, SnapshotResponse{Depth: depth})
}

func (s *server) rollback(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Rollback(r.Context()); err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathAddress(r *http.Request) (address.Address, error) {
	var raw string
	if err := runtime.BindStyledParameterWithLocation("simple", false, "address", runtime.ParamLocationPath, chi.URLParam(r, "address"), &raw); err != nil {
		return "", badRequest("invalid format for parameter address: %v", err)
	}
	a, err := address.Parse(raw)
	if err != nil {
		return "", badRequest("address: %v", err)
	}
	return a, nil
}

func callerOf(r *http.Request) (address.Address, error) {
	values := r.Header.Values(CallerHeader)
	if len(values) != 1 {
		return "", badRequest("expected exactly one %s header, got %d", CallerHeader, len(values))
	}
	var raw string
	if err := runtime.BindStyledParameterWithLocation("simple", false, CallerHeader, runtime.ParamLocationHeader, values[0], &raw); err != nil {
		return "", badRequest("invalid format for parameter %s: %v", CallerHeader, err)
	}
	a, err := address.Parse(raw)
	if err != nil {
		return "", badRequest("%s: %v", CallerHeader, err)
	}
	return a, nil
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest("decode body: %v", err)
	}
	return nil
}

func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(limitKey(r), s.now()) {
			writeError(w, s.log, &apiError{Status: http.StatusTooManyRequests, Kind: kindRateLimited, Err: errors.New("rate limit exceeded")})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitKey buckets by the caller's address key, or by the remote host when the
// caller header is missing or malformed.
func limitKey(r *http.Request) string {
	if a, err := callerOf(r); err == nil {
		return a.Key()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", s.now().Sub(start),
		)
	})
}
