// Package witness pushes fresh root attestations to external witness
// endpoints. Witnessing is best effort: an unreachable witness never blocks
// or fails a signing cycle, it only produces a failed attempt record.
package witness

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"tally/internal/domain"
)

type Publisher struct {
	endpoints []string
	timeout   time.Duration
	attempts  domain.WitnessAttemptRepository
	httpDo    func(*http.Request) (*http.Response, error)
}

// NewPublisher builds a publisher for the given endpoints. attempts may be
// nil, in which case attempt records are returned but not persisted.
func NewPublisher(endpoints []string, timeout time.Duration, attempts domain.WitnessAttemptRepository, httpClient *http.Client) *Publisher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	doer := http.DefaultClient.Do
	if httpClient != nil {
		doer = httpClient.Do
	}
	return &Publisher{
		endpoints: append([]string(nil), endpoints...),
		timeout:   timeout,
		attempts:  attempts,
		httpDo:    doer,
	}
}

type attestationDoc struct {
	View              uint64 `json:"view"`
	SequenceAtSigning uint64 `json:"sequence_at_signing"`
	RootHash          string `json:"root_hash"`
	KeyID             string `json:"key_id"`
	Signature         string `json:"signature"`
	IssuedAt          string `json:"issued_at,omitempty"`
}

// Publish posts the attestation to every configured endpoint and returns one
// attempt record per endpoint. With no endpoints configured it returns nil.
func (p *Publisher) Publish(ctx context.Context, att domain.RootAttestation) []domain.WitnessAttempt {
	if len(p.endpoints) == 0 {
		return nil
	}
	doc := attestationDoc{
		View:              att.View,
		SequenceAtSigning: att.SequenceAtSigning,
		RootHash:          att.Root.Hex(),
		KeyID:             att.KeyID,
		Signature:         base64.StdEncoding.EncodeToString(att.Signature),
	}
	if !att.IssuedAt.IsZero() {
		doc.IssuedAt = att.IssuedAt.UTC().Format(time.RFC3339Nano)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		body = nil
	}

	out := make([]domain.WitnessAttempt, 0, len(p.endpoints))
	for _, endpoint := range p.endpoints {
		attempt := domain.WitnessAttempt{
			Endpoint:          endpoint,
			View:              att.View,
			SequenceAtSigning: att.SequenceAtSigning,
			RootHex:           att.Root.Hex(),
			AttemptedAt:       time.Now().UTC(),
		}
		if body == nil {
			attempt.Status = domain.WitnessStatusSkipped
			attempt.Error = "encode attestation"
		} else {
			attempt.Status, attempt.Error = p.post(ctx, endpoint, body)
		}
		if p.attempts != nil {
			if err := p.attempts.Append(ctx, attempt); err != nil {
				log.Printf("witness: record attempt for %s: %v", endpoint, err)
			}
		}
		out = append(out, attempt)
	}
	return out
}

func (p *Publisher) post(ctx context.Context, endpoint string, body []byte) (status, errMsg string) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.WitnessStatusFailed, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpDo(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return domain.WitnessStatusFailed, "timeout"
		}
		return domain.WitnessStatusFailed, err.Error()
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.WitnessStatusFailed, resp.Status
	}
	return domain.WitnessStatusPublished, ""
}
