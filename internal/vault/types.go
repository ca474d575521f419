package vault

import "time"

// Kind is the declared shape of a credential.
type Kind string

const (
	KindAPIKey         Kind = "api_key"
	KindOAuth          Kind = "oauth"
	KindServiceAccount Kind = "service_account"
)

// Valid reports whether k is a known credential kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAPIKey, KindOAuth, KindServiceAccount:
		return true
	}
	return false
}

// Status is the outcome of the last connection test.
type Status string

const (
	StatusNotConfigured Status = "not_configured"
	StatusConnected     Status = "connected"
	StatusError         Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNotConfigured, StatusConnected, StatusError:
		return true
	}
	return false
}

// Credential is the metadata of a stored credential. It never carries plaintext.
type Credential struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ServiceName string     `json:"service_name"`
	Kind        Kind       `json:"credential_type"`
	Status      Status     `json:"status"`
	IsActive    bool       `json:"is_active"`
	LastTested  *time.Time `json:"last_tested,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Record is a Credential together with its sealed blob, as persisted.
type Record struct {
	Credential
	Blob string
}
