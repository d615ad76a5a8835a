// server.go - HTTP front end for the reencryption oracle.
//
// Exposes the gateway over REST for off-process viewers: the public key
// endpoint, request submission, and result polling. Submission is
// asynchronous; clients poll until their request has been served.

package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/ethereum/go-ethereum/common"

	"lockup/internal/fhe"
)

// PubKeyResponse is the REST response for the gateway's DH public key.
// X, Y are hex-encoded BLS12-377 G1Affine coordinates.
type PubKeyResponse struct {
	X string `json:"x"`
	Y string `json:"y"`
}

// ReencryptRequest is the REST request for a disclosure.
type ReencryptRequest struct {
	Handle    string `json:"handle"`
	PublicKey string `json:"public_key"` // hex, compressed G1 point
	Signature string `json:"signature"`  // hex, 65 bytes
	Ledger    string `json:"ledger"`
	Viewer    string `json:"viewer"`
}

// ReencryptResponse acknowledges a submitted request.
type ReencryptResponse struct {
	ID string `json:"id"`
}

// ResultResponse is the polling response for a submitted request.
type ResultResponse struct {
	Status     string `json:"status"` // "pending", "done" or "error"
	Ciphertext string `json:"ciphertext,omitempty"`
	Error      string `json:"error,omitempty"`
}

type serverResult struct {
	done   bool
	result Reencrypted
	err    error
}

// Server serves the gateway over HTTP.
type Server struct {
	gateway *Gateway
	server  *http.Server

	mu      sync.Mutex
	results map[string]*serverResult
}

// NewServer wraps a gateway. Start must be called to begin listening.
func NewServer(g *Gateway) *Server {
	return &Server{
		gateway: g,
		results: make(map[string]*serverResult),
	}
}

// Handler returns the route table, so callers can wrap it (rate limiting,
// logging) before serving.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/pubkey", s.handlePubKey)
	mux.HandleFunc("/reencrypt", s.handleReencrypt)
	mux.HandleFunc("/result", s.handleResult)
	return mux
}

// Start begins serving on addr. It returns once the listener fails or the
// server is shut down.
func (s *Server) Start(addr string, handler http.Handler) error {
	if handler == nil {
		handler = s.Handler()
	}
	s.server = &http.Server{Addr: addr, Handler: handler}
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handlePubKey(w http.ResponseWriter, r *http.Request) {
	pk := s.gateway.PublicKey()
	x := pk.X.Bytes()
	y := pk.Y.Bytes()
	writeJSON(w, PubKeyResponse{
		X: hex.EncodeToString(x[:]),
		Y: hex.EncodeToString(y[:]),
	})
}

func (s *Server) handleReencrypt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body ReencryptRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req, err := parseRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := hex.EncodeToString(randomID())
	pending := s.gateway.Request(req)

	s.mu.Lock()
	s.results[id] = &serverResult{}
	s.mu.Unlock()

	go func() {
		result, err := pending.Await(context.Background())
		s.mu.Lock()
		s.results[id] = &serverResult{done: true, result: result, err: err}
		s.mu.Unlock()
	}()

	log.Printf("[gateway] queued reencryption request %s for handle %s", id, body.Handle)
	writeJSON(w, ReencryptResponse{ID: id})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	s.mu.Lock()
	res, ok := s.results[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown request id", http.StatusNotFound)
		return
	}
	switch {
	case !res.done:
		writeJSON(w, ResultResponse{Status: "pending"})
	case res.err != nil:
		writeJSON(w, ResultResponse{Status: "error", Error: res.err.Error()})
	default:
		writeJSON(w, ResultResponse{
			Status:     "done",
			Ciphertext: hex.EncodeToString(res.result.Ciphertext),
		})
	}
}

func parseRequest(body ReencryptRequest) (Request, error) {
	pkBytes, err := hex.DecodeString(body.PublicKey)
	if err != nil {
		return Request{}, fmt.Errorf("invalid public key encoding: %w", err)
	}
	var pk bls12377.G1Affine
	if _, err := pk.SetBytes(pkBytes); err != nil {
		return Request{}, fmt.Errorf("invalid public key point: %w", err)
	}
	sig, err := hex.DecodeString(body.Signature)
	if err != nil {
		return Request{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	return Request{
		Handle:    fhe.Handle(body.Handle),
		PublicKey: &pk,
		Signature: sig,
		Ledger:    common.HexToAddress(body.Ledger),
		Viewer:    common.HexToAddress(body.Viewer),
	}, nil
}

func randomID() []byte {
	b := make([]byte, 16)
	rand.Read(b)
	return b
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
