package prover

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/log"

	"github.com/pilacorp/go-credential-chain/commitment"
)

// maxRequestBytes caps request bodies.
const maxRequestBytes = 1 << 16

// NewHandler serves the prover API on top of p.
func NewHandler(p commitment.Prover) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+PathCommit, func(w http.ResponseWriter, r *http.Request) {
		var req commitRequest
		if !decode(w, r, &req) {
			return
		}
		value, err := req.value()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		blinding, err := requiredHash("blinding", req.Blinding)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := p.Commit(r.Context(), value, blinding)
		respond(w, resp, err)
	})

	mux.HandleFunc("POST "+PathCommitWithBinding, func(w http.ResponseWriter, r *http.Request) {
		var req commitRequest
		if !decode(w, r, &req) {
			return
		}
		value, err := req.value()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		blinding, err := requiredHash("blinding", req.Blinding)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		tag, err := requiredHash("bindingTag", req.BindingTag)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := p.CommitWithBinding(r.Context(), value, blinding, tag)
		respond(w, resp, err)
	})

	mux.HandleFunc("POST "+PathCommitTxHash, func(w http.ResponseWriter, r *http.Request) {
		var req commitTxHashRequest
		if !decode(w, r, &req) {
			return
		}
		txHash, err := requiredHash("txHash", req.TxHash)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		tag, err := optionalTag(req.BindingTag)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := p.CommitTxHash(r.Context(), txHash, tag)
		respond(w, resp, err)
	})

	mux.HandleFunc("POST "+PathVerify, func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Commitment == "" || req.Proof == "" {
			writeError(w, http.StatusBadRequest, errors.New("commitment and proof are required"))
			return
		}
		tag, err := optionalTag(req.BindingTag)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ok, err := p.Verify(r.Context(), req.Commitment, req.Proof, tag)
		respond(w, &verifyResponse{Verified: ok}, err)
	})

	return mux
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func respond(w http.ResponseWriter, body interface{}, err error) {
	if err != nil {
		log.Error("Prover request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
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
