package vaultclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestClient_ReadWriteDeleteKV(t *testing.T) {
	t.Parallel()
	const token = "vault-token"
	var (
		readCalled   bool
		writeCalled  bool
		deleteCalled bool
	)

	client := New("https://vault.example", token)
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.Header.Get("X-Vault-Token") != token {
				return &http.Response{
					StatusCode: http.StatusForbidden,
					Body:       io.NopCloser(bytes.NewReader(nil)),
					Header:     make(http.Header),
				}, nil
			}
			if r.URL.Path != "/v1/secret/data/tally/dev/keys/attestation/kid-1" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			switch r.Method {
			case http.MethodGet:
				readCalled = true
				resp := map[string]any{
					"data": map[string]any{
						"data": map[string]string{
							"kid": "kid-1",
						},
					},
				}
				payload, _ := json.Marshal(resp)
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(bytes.NewReader(payload)),
					Header:     make(http.Header),
				}, nil
			case http.MethodPut:
				writeCalled = true
				body, _ := io.ReadAll(r.Body)
				var decoded map[string]map[string]string
				if err := json.Unmarshal(body, &decoded); err != nil {
					t.Errorf("decode body: %v", err)
				}
				if decoded["data"]["kid"] != "kid-1" {
					t.Errorf("unexpected payload: %v", decoded)
				}
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(bytes.NewReader(nil)),
					Header:     make(http.Header),
				}, nil
			case http.MethodDelete:
				deleteCalled = true
				return &http.Response{
					StatusCode: http.StatusNoContent,
					Body:       io.NopCloser(bytes.NewReader(nil)),
					Header:     make(http.Header),
				}, nil
			default:
				return &http.Response{
					StatusCode: http.StatusMethodNotAllowed,
					Body:       io.NopCloser(bytes.NewReader(nil)),
					Header:     make(http.Header),
				}, nil
			}
		}),
	}

	const path = "secret/data/tally/dev/keys/attestation/kid-1"
	var out struct {
		KID string `json:"kid"`
	}
	if err := client.ReadKV(context.Background(), path, &out); err != nil {
		t.Fatalf("read kv: %v", err)
	}
	if out.KID != "kid-1" {
		t.Fatalf("unexpected read data: %v", out.KID)
	}
	if err := client.WriteKV(context.Background(), path, map[string]string{"kid": "kid-1"}); err != nil {
		t.Fatalf("write kv: %v", err)
	}
	if err := client.DeleteKV(context.Background(), path); err != nil {
		t.Fatalf("delete kv: %v", err)
	}
	if !readCalled || !writeCalled || !deleteCalled {
		t.Fatalf("expected read/write/delete calls, got read=%v write=%v delete=%v", readCalled, writeCalled, deleteCalled)
	}
}

func TestClient_RejectsMisconfiguration(t *testing.T) {
	t.Parallel()
	if err := New("", "token").ReadKV(context.Background(), "secret/data/x", &struct{}{}); err == nil {
		t.Fatal("expected error for missing addr")
	}
	if err := New("https://vault.example", "").WriteKV(context.Background(), "secret/data/x", nil); err == nil {
		t.Fatal("expected error for missing token")
	}
	if err := New("https://vault.example", "token").DeleteKV(context.Background(), ""); err == nil {
		t.Fatal("expected error for missing path")
	}
}
