package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"tally/internal/domain"
	"tally/pkg/receipt"
)

type headDoc struct {
	Size uint64 `json:"size"`
	View uint64 `json:"view"`
	Root string `json:"root"`
}

type attestationDoc struct {
	View              uint64 `json:"view"`
	SequenceAtSigning uint64 `json:"sequence_at_signing"`
	RootHash          string `json:"root_hash"`
	KeyID             string `json:"key_id"`
	Signature         string `json:"signature"`
	IssuedAt          string `json:"issued_at"`
}

type consistencyDoc struct {
	FromSize       uint64          `json:"from_size"`
	ToSize         uint64          `json:"to_size"`
	FromRoot       string          `json:"from_root"`
	ToRoot         string          `json:"to_root"`
	Path           []string        `json:"path"`
	OldAttestation *attestationDoc `json:"old_attestation"`
	NewAttestation *attestationDoc `json:"new_attestation"`
}

func runHead(args []string) int {
	fs := flag.NewFlagSet("head", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var server string
	fs.StringVar(&server, "server", "", "ledger base URL")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if server == "" {
		fmt.Fprintln(os.Stderr, "head requires --server")
		return 1
	}

	raw, err := fetch(server, "/v1/ledger/head", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch head: %v\n", err)
		return 1
	}
	var head headDoc
	if err := json.Unmarshal(raw, &head); err != nil {
		fmt.Fprintf(os.Stderr, "decode head: %v\n", err)
		return 1
	}
	if head.Size == 0 {
		fmt.Printf("size=0 view=%d\n", head.View)
		return 0
	}
	fmt.Printf("size=%d view=%d root=%s\n", head.Size, head.View, head.Root)
	return 0
}

func runConsistency(args []string) int {
	fs := flag.NewFlagSet("consistency", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var server string
	var from uint64
	var to uint64
	var keyringPath string

	fs.StringVar(&server, "server", "", "ledger base URL")
	fs.Uint64Var(&from, "from", 0, "older tree size")
	fs.Uint64Var(&to, "to", 0, "newer tree size")
	fs.StringVar(&keyringPath, "keyring", "", "key ring JSON file, enables signature checks")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if server == "" || from == 0 || to == 0 {
		fmt.Fprintln(os.Stderr, "consistency requires --server, --from, and --to")
		return 1
	}

	query := url.Values{}
	query.Set("from", strconv.FormatUint(from, 10))
	query.Set("to", strconv.FormatUint(to, 10))
	raw, err := fetch(server, "/v1/consistency", query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch consistency: %v\n", err)
		return 1
	}
	var doc consistencyDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "decode consistency: %v\n", err)
		return 1
	}
	fmt.Printf("from=%d to=%d from_root=%s to_root=%s path_len=%d\n",
		doc.FromSize, doc.ToSize, doc.FromRoot, doc.ToRoot, len(doc.Path))

	if keyringPath == "" {
		return 0
	}
	if doc.OldAttestation == nil || doc.NewAttestation == nil {
		fmt.Fprintln(os.Stderr, "consistency: server returned no attestations for the requested sizes")
		return 1
	}

	ring, err := receipt.LoadKeyRing(keyringPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load keyring: %v\n", err)
		return 1
	}
	oldAtt, err := attestationFromDoc(*doc.OldAttestation)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode old attestation: %v\n", err)
		return 1
	}
	newAtt, err := attestationFromDoc(*doc.NewAttestation)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode new attestation: %v\n", err)
		return 1
	}
	proof := make([]domain.Digest, 0, len(doc.Path))
	for _, node := range doc.Path {
		digest, err := domain.ParseDigest(node)
		if err != nil {
			fmt.Fprintf(os.Stderr, "decode proof node: %v\n", err)
			return 1
		}
		proof = append(proof, digest)
	}

	result := receipt.VerifyConsistency(oldAtt, newAtt, proof, ring)
	if !result.Valid {
		fmt.Printf("consistent=false reason=%s\n", result.Reason)
		return 1
	}
	fmt.Printf("consistent=true old_key=%s new_key=%s\n", oldAtt.KeyID, newAtt.KeyID)
	return 0
}

func attestationFromDoc(doc attestationDoc) (domain.RootAttestation, error) {
	root, err := domain.ParseDigest(doc.RootHash)
	if err != nil {
		return domain.RootAttestation{}, err
	}
	sig, err := base64.StdEncoding.DecodeString(doc.Signature)
	if err != nil {
		return domain.RootAttestation{}, err
	}
	att := domain.RootAttestation{
		View:              doc.View,
		SequenceAtSigning: doc.SequenceAtSigning,
		Root:              root,
		KeyID:             doc.KeyID,
		Signature:         sig,
	}
	if doc.IssuedAt != "" {
		issued, err := time.Parse(time.RFC3339, doc.IssuedAt)
		if err != nil {
			return domain.RootAttestation{}, err
		}
		att.IssuedAt = issued
	}
	return att, nil
}
