package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tally/internal/domain"
	"tally/internal/usecase"
	"tally/pkg/receipt"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type recordRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type recordResponse struct {
	Sequence uint64 `json:"sequence"`
	View     uint64 `json:"view"`
	LeafHash string `json:"leaf_hash"`
}

type entryResponse struct {
	Key         string          `json:"key"`
	Sequence    uint64          `json:"sequence"`
	View        uint64          `json:"view"`
	LeafHash    string          `json:"leaf_hash"`
	Value       json.RawMessage `json:"value,omitempty"`
	ValueBase64 string          `json:"value_base64,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
}

type verifyRequest struct {
	Receipt json.RawMessage `json:"receipt"`
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type attestationResponse struct {
	View              uint64 `json:"view"`
	SequenceAtSigning uint64 `json:"sequence_at_signing"`
	RootHash          string `json:"root_hash"`
	KeyID             string `json:"key_id"`
	Signature         string `json:"signature"`
	IssuedAt          string `json:"issued_at,omitempty"`
}

type headResponse struct {
	Size uint64 `json:"size"`
	View uint64 `json:"view"`
	Root string `json:"root,omitempty"`
}

type consistencyResponse struct {
	FromSize       uint64               `json:"from_size"`
	ToSize         uint64               `json:"to_size"`
	FromRoot       string               `json:"from_root"`
	ToRoot         string               `json:"to_root"`
	Path           []string             `json:"path"`
	OldAttestation *attestationResponse `json:"old_attestation,omitempty"`
	NewAttestation *attestationResponse `json:"new_attestation,omitempty"`
}

type advanceViewRequest struct {
	View uint64 `json:"view"`
}

type retractRequest struct {
	Size uint64 `json:"size"`
}

type pruneRequest struct {
	Keep uint64 `json:"keep"`
}

type keyResponse struct {
	KID       string `json:"kid"`
	Alg       string `json:"alg"`
	PublicKey string `json:"public_key"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	mode := "memory"
	switch {
	case s.cfg.PostgresDSN != "":
		mode = "postgres"
	case s.cfg.LedgerDBPath != "":
		mode = "bolt"
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": mode})
}

func (s *Server) handleRecordEntry(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.Key == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_ENTRY", "key is required")
		return
	}
	out, err := s.record.Execute(c.Request.Context(), usecase.RecordEntryRequest{
		Key:   req.Key,
		Value: []byte(req.Value),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, recordResponse{
		Sequence: out.Sequence,
		View:     out.View,
		LeafHash: out.Leaf.Hex(),
	})
}

func (s *Server) handleGetEntry(c *gin.Context) {
	entry, err := s.ledger.GetByKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildEntryResponse(entry))
}

func (s *Server) handleGetReceipt(c *gin.Context) {
	sequence, err := strconv.ParseUint(c.Param("sequence"), 10, 64)
	if err != nil || sequence == 0 {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_SEQUENCE", "sequence must be a positive integer")
		return
	}
	rcpt, err := s.issue.Execute(c.Request.Context(), sequence)
	if err != nil {
		s.writeError(c, err)
		return
	}
	raw, err := receipt.Marshal(rcpt)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (s *Server) handleVerifyReceipt(c *gin.Context) {
	// Verification outcomes are results, not errors: a malformed or tampered
	// receipt is still a 200 with valid=false.
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Receipt) == 0 {
		c.JSON(http.StatusOK, verifyResponse{Valid: false, Reason: string(receipt.ReasonMalformed)})
		return
	}
	result, err := s.verify.ExecuteSerialized(c.Request.Context(), req.Receipt)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{Valid: result.Valid, Reason: string(result.Reason)})
}

func (s *Server) handleLatestAttestation(c *gin.Context) {
	att, err := s.ledger.LatestAttestation(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildAttestationResponse(att))
}

func (s *Server) handleConsistency(c *gin.Context) {
	from, err := strconv.ParseUint(c.Query("from"), 10, 64)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_RANGE", "invalid from size")
		return
	}
	to, err := strconv.ParseUint(c.Query("to"), 10, 64)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_RANGE", "invalid to size")
		return
	}
	out, err := s.consistency.Execute(c.Request.Context(), from, to)
	if err != nil {
		s.writeError(c, err)
		return
	}

	path := make([]string, 0, len(out.Proof.Path))
	for _, node := range out.Proof.Path {
		path = append(path, node.Hex())
	}
	resp := consistencyResponse{
		FromSize: out.Proof.FromSize,
		ToSize:   out.Proof.ToSize,
		FromRoot: out.Proof.FromRoot.Hex(),
		ToRoot:   out.Proof.ToRoot.Hex(),
		Path:     path,
	}
	if out.OldAtt != nil {
		att := buildAttestationResponse(*out.OldAtt)
		resp.OldAttestation = &att
	}
	if out.NewAtt != nil {
		att := buildAttestationResponse(*out.NewAtt)
		resp.NewAttestation = &att
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHead(c *gin.Context) {
	head, err := s.ledger.Head(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	resp := headResponse{Size: head.Size, View: head.View}
	if head.Size > 0 {
		resp.Root = head.Root.Hex()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAdminAttest(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	att, err := s.ledger.Attest(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if att.Zero() {
		c.JSON(http.StatusOK, gin.H{"status": "empty"})
		return
	}
	if s.witness != nil {
		s.witness.Publish(c.Request.Context(), att)
	}
	c.JSON(http.StatusOK, buildAttestationResponse(att))
}

func (s *Server) handleAdminAdvanceView(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req advanceViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.View == 0 {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_VIEW", "view is required")
		return
	}
	if err := s.ledger.AdvanceView(c.Request.Context(), req.View); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"view": req.View})
}

func (s *Server) handleAdminRetract(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req retractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if err := s.ledger.Retract(c.Request.Context(), req.Size); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"size": req.Size})
}

func (s *Server) handleAdminPrune(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req pruneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.Keep == 0 {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_RANGE", "keep is required")
		return
	}
	if err := s.ledger.Prune(c.Request.Context(), req.Keep); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keep": req.Keep})
}

func (s *Server) handleAdminRotateKey(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.rotation == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "NOT_CONFIGURED", "key rotation not configured")
		return
	}
	key, err := s.rotation.Rotate(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, keyResponse{
		KID:       key.KID,
		Alg:       key.Alg,
		PublicKey: base64.StdEncoding.EncodeToString(key.PublicKey),
		Status:    string(key.Status),
		CreatedAt: key.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// handleAdminListKeys serves the verification key ring as a flat kid-to-key
// map, the format the offline verifier loads directly.
func (s *Server) handleAdminListKeys(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	if s.keyRing == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "NOT_CONFIGURED", "key ring not configured")
		return
	}
	ring, err := s.keyRing.Ring(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make(map[string]string, len(ring))
	for kid, pub := range ring {
		out[kid] = base64.StdEncoding.EncodeToString(pub)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func buildEntryResponse(entry domain.Entry) entryResponse {
	resp := entryResponse{
		Key:      entry.Key,
		Sequence: entry.Sequence,
		View:     entry.View,
		LeafHash: entry.Leaf.Hex(),
	}
	if !entry.CreatedAt.IsZero() {
		resp.CreatedAt = entry.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if json.Valid(entry.Value) {
		resp.Value = json.RawMessage(entry.Value)
	} else if len(entry.Value) > 0 {
		resp.ValueBase64 = base64.StdEncoding.EncodeToString(entry.Value)
	}
	return resp
}

func buildAttestationResponse(att domain.RootAttestation) attestationResponse {
	resp := attestationResponse{
		View:              att.View,
		SequenceAtSigning: att.SequenceAtSigning,
		RootHash:          att.Root.Hex(),
		KeyID:             att.KeyID,
		Signature:         base64.StdEncoding.EncodeToString(att.Signature),
	}
	if !att.IssuedAt.IsZero() {
		resp.IssuedAt = att.IssuedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (s *Server) writeError(c *gin.Context, err error) {
	var denied *usecase.PolicyDeniedError
	if errors.As(err, &denied) {
		c.JSON(http.StatusForbidden, errorResponse{
			Code:    "POLICY_DENIED",
			Message: denied.Error(),
			Details: map[string]any{"denials": denied.Denials},
		})
		return
	}

	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrSuperseded):
		status, code = http.StatusNotFound, "SUPERSEDED"
	case errors.Is(err, domain.ErrNotYetAttested):
		c.Header("Retry-After", strconv.Itoa(s.retryAfterSeconds()))
		status, code = http.StatusServiceUnavailable, "NOT_YET_ATTESTED"
	case errors.Is(err, domain.ErrInvalidEntry):
		status, code = http.StatusBadRequest, "INVALID_ENTRY"
	case errors.Is(err, domain.ErrInvalidRange):
		status, code = http.StatusBadRequest, "INVALID_RANGE"
	case errors.Is(err, domain.ErrViewRegression):
		status, code = http.StatusConflict, "VIEW_REGRESSION"
	case errors.Is(err, domain.ErrViewChangeRequired):
		status, code = http.StatusConflict, "VIEW_CHANGE_REQUIRED"
	case errors.Is(err, domain.ErrRetractBeforePrune):
		status, code = http.StatusConflict, "RETRACT_BEFORE_PRUNE"
	case errors.Is(err, domain.ErrStaleAttestation):
		status, code = http.StatusConflict, "STALE_ATTESTATION"
	case errors.Is(err, domain.ErrLedgerClosed):
		status, code = http.StatusServiceUnavailable, "LEDGER_CLOSED"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	}
	writeErrorCode(c, status, code, err.Error())
}

func (s *Server) retryAfterSeconds() int {
	if s.cfg.AttestIntervalSeconds > 0 {
		return s.cfg.AttestIntervalSeconds
	}
	return 5
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}
