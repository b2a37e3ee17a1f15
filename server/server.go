// Package server exposes credential verification and retrieval over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-credential-chain/commitment"
	"github.com/pilacorp/go-credential-chain/credential/common/schema"
	"github.com/pilacorp/go-credential-chain/credential/vc"
	"github.com/pilacorp/go-credential-chain/prover"
	"github.com/pilacorp/go-credential-chain/store"
	"github.com/pilacorp/go-credential-chain/verifier"
)

// Routes served by the handler.
const (
	PathVerify     = "/verify-vc"
	PathFetch      = "/fetch-vc"
	PathProvenance = "/provenance"
	// PathProver prefixes the prover API when a prover is mounted.
	PathProver = "/zkp"
)

const maxRequestBytes = 1 << 20

// Server serves the verification API.
type Server struct {
	verifier *verifier.Verifier
	content  vc.ContentGetter
	prover   commitment.Prover
}

// Option configures a Server.
type Option func(*Server)

// WithProver mounts the prover API under PathProver.
func WithProver(p commitment.Prover) Option {
	return func(s *Server) {
		s.prover = p
	}
}

// New creates a Server. content backs PathFetch and PathProvenance.
func New(v *verifier.Verifier, content vc.ContentGetter, opts ...Option) *Server {
	s := &Server{verifier: v, content: content}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathVerify, s.handleVerify)
	mux.HandleFunc("POST "+PathFetch, s.handleFetch)
	mux.HandleFunc("POST "+PathProvenance, s.handleProvenance)
	if s.prover != nil {
		mux.Handle(PathProver+"/", http.StripPrefix(PathProver, prover.NewHandler(s.prover)))
	}
	return otelhttp.NewHandler(mux, "chainvc")
}

type verifyRequest struct {
	VC              json.RawMessage `json:"vc"`
	IsCertificate   bool            `json:"isCertificate"`
	ContractAddress string          `json:"contractAddress"`
	CID             string          `json:"cid"`
}

type verifyResponse struct {
	Message string                   `json:"message"`
	Issuer  verifier.SignatureCheck  `json:"issuer"`
	Holder  *verifier.SignatureCheck `json:"holder"`
	Report  *verifier.Report         `json:"report"`
}

type cidRequest struct {
	CID string `json:"cid"`
}

type fetchResponse struct {
	Message string          `json:"message"`
	VC      json.RawMessage `json:"vc"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.VC) == 0 || string(req.VC) == "null" {
		writeError(w, http.StatusBadRequest, errors.New("vc is required"))
		return
	}

	c, err := vc.ParseCredential(unwrapString(req.VC), vc.WithSchemaValidation())
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid credential: %w", err))
		return
	}

	report := s.verifier.VerifyAll(r.Context(), c, verifier.VerifyOptions{
		ContentID:       req.CID,
		ContractAddress: req.ContractAddress,
	})
	resp := verifyResponse{
		Message: "VC verification complete.",
		Issuer:  report.Issuer,
		Holder:  &report.Holder,
		Report:  report,
	}
	if req.IsCertificate {
		resp.Holder = nil
	}
	log.Info("Verified credential", "id", c.ID, "issuer", report.Issuer.Status, "holder", report.Holder.Status)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req cidRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CID == "" {
		writeError(w, http.StatusBadRequest, errors.New("cid is required"))
		return
	}

	data, err := s.content.Get(r.Context(), req.CID)
	if err != nil {
		writeStoreError(w, req.CID, err)
		return
	}
	if !json.Valid(data) {
		writeError(w, http.StatusBadGateway, fmt.Errorf("content %s is not JSON", req.CID))
		return
	}
	writeJSON(w, http.StatusOK, fetchResponse{Message: "VC fetching complete.", VC: data})
}

func (s *Server) handleProvenance(w http.ResponseWriter, r *http.Request) {
	var req cidRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CID == "" {
		writeError(w, http.StatusBadRequest, errors.New("cid is required"))
		return
	}

	report, err := s.verifier.WalkProvenance(r.Context(), req.CID, nil)
	if err != nil {
		writeStoreError(w, req.CID, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// unwrapString accepts a credential sent either as an object or as a JSON
// string holding one.
func unwrapString(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, cid string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, schema.ErrInvalidCredential):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, store.ErrStoreUnavailable):
		log.Warn("Content store unavailable", "cid", cid, "err", err)
		writeError(w, http.StatusBadGateway, err)
	default:
		log.Error("Request failed", "cid", cid, "err", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug("Failed to write response", "err", err)
	}
}
