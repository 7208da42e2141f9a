package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "receipt":
		return runReceipt(args[2:])
	case "verify":
		return runVerify(args[2:])
	case "head":
		return runHead(args[2:])
	case "consistency":
		return runConsistency(args[2:])
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "tally"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s receipt --server <url> --sequence <n> [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s verify --in <receipt.json> (--pubkey-hex <hex>|--pubkey-base64 <b64>|--keyring <file>)\n", name)
	fmt.Fprintf(os.Stderr, "  %s head --server <url>\n", name)
	fmt.Fprintf(os.Stderr, "  %s consistency --server <url> --from <size> --to <size> [--keyring <file>]\n", name)
}

func writeOutput(path string, payload []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(append(payload, '\n'))
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// apiError mirrors the server's error envelope so failures print as
// code/message instead of raw JSON.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func fetch(server, path string, query url.Values) ([]byte, error) {
	base := strings.TrimRight(server, "/")
	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
			return nil, fmt.Errorf("%s: %s (%s)", resp.Status, apiErr.Message, apiErr.Code)
		}
		return nil, fmt.Errorf("%s", resp.Status)
	}
	return body, nil
}
