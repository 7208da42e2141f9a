package domain

// PolicyInput is the document handed to the admission policy before an entry
// is committed. The policy sees the entry as submitted plus the current head,
// never key material or accumulator internals.
type PolicyInput struct {
	Entry PolicyEntry `json:"entry"`
	Head  PolicyHead  `json:"head"`
}

type PolicyEntry struct {
	Key       string `json:"key"`
	ValueSize int    `json:"value_size"`
}

type PolicyHead struct {
	Size uint64 `json:"size"`
	View uint64 `json:"view"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}
