package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"wheresmymoney/internal/core"
)

const defaultMaxBodyBytes = 1 << 20

// SyncRequest is the body of POST /api/sync.
type SyncRequest struct {
	UserID    string      `json:"user_id"`
	TriggerID string      `json:"trigger_id,omitempty"`
	Dates     []core.Date `json:"dates,omitempty"`
	// Async hands the trigger to the worker queue instead of running it inline.
	Async bool `json:"async,omitempty"`
}

type CreateUserRequest struct {
	Email      string `json:"email"`
	OAuthToken string `json:"oauth_token"`
}

type LinkItemRequest struct {
	PublicToken   string `json:"public_token"`
	InstitutionID string `json:"institution_id"`
}

// DecodeJSON reads a single JSON object from r into dst. Unknown fields,
// trailing data and oversized bodies are rejected as validation errors,
// except that the size error keeps *http.MaxBytesError in its chain.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return core.ValidationError("decode", fmt.Errorf("unsupported content type %q", ct))
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return core.ValidationError("decode", errors.New("empty body"))
		}
		return core.ValidationError("decode", err)
	}
	if dec.More() {
		return core.ValidationError("decode", errors.New("body must contain a single JSON object"))
	}
	return nil
}

// ReadBody reads a raw body, bounded by maxBytes.
func ReadBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		return nil, core.ValidationError("read body", err)
	}
	return body, nil
}

// sanitizeInput trims whitespace and drops control characters other than
// tab, newline and carriage return.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func (req *SyncRequest) normalize() error {
	req.UserID = sanitizeInput(req.UserID)
	req.TriggerID = sanitizeInput(req.TriggerID)
	if req.UserID == "" {
		return core.ValidationError("sync request", core.ErrEmptyUserID)
	}
	for _, d := range req.Dates {
		if err := d.Validate(); err != nil {
			return core.ValidationError("sync request", err)
		}
	}
	return nil
}

func (req *CreateUserRequest) normalize() error {
	req.Email = sanitizeInput(req.Email)
	req.OAuthToken = strings.TrimSpace(req.OAuthToken)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return core.ValidationError("create user request", fmt.Errorf("invalid email %q", req.Email))
	}
	return nil
}

func (req *LinkItemRequest) normalize() error {
	req.PublicToken = sanitizeInput(req.PublicToken)
	req.InstitutionID = sanitizeInput(req.InstitutionID)
	if req.PublicToken == "" {
		return core.ValidationError("link item request", errors.New("public_token is required"))
	}
	return nil
}
