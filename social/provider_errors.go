package social

import (
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Handshake legs. Each failed call names the leg it belongs to so the
// diagnostics say where in the flow things broke.
const (
	opAuthorize    = "authorize"
	opExchange     = "exchange"
	opRequestToken = "request_token"
	opAccessToken  = "access_token"
	opProfile      = "profile"
)

// legSentinels maps each handshake leg to the sentinel its failures
// surface as. Profile calls get their own sentinel so callers can tell
// "login worked, profile fetch did not" apart from a broken handshake.
var legSentinels = map[string]*goerrors.Error{
	opAuthorize:    ErrUnexpectedResponse,
	opExchange:     ErrUnexpectedResponse,
	opRequestToken: ErrUnexpectedResponse,
	opAccessToken:  ErrUnexpectedResponse,
	opProfile:      ErrProfileRetrieval,
}

// ProviderError carries the diagnostics of a failed provider call: the
// HTTP status, the provider's own error code and description, and the
// raw response envelope. It never crosses the package boundary bare;
// wrap attaches it to the sentinel for the leg that failed, so callers
// match on the package taxonomy and dig the details out with
// errors.As.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
	Raw         map[string]any
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "social provider error"
	}

	var b strings.Builder
	b.WriteString("social provider")
	if e.Provider != "" {
		b.WriteString(" " + e.Provider)
	}
	if e.Operation != "" {
		b.WriteString(" " + e.Operation)
	}

	switch {
	case e.Description != "":
		fmt.Fprintf(&b, ": %s", e.Description)
	case e.Code != "":
		fmt.Fprintf(&b, ": %s", e.Code)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	case e.Status != 0:
		fmt.Fprintf(&b, ": status %d", e.Status)
	default:
		b.WriteString(" failed")
	}

	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata flattens the diagnostics for go-errors metadata merging.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	if e.Err != nil {
		meta["error"] = e.Err.Error()
	}
	if len(e.Raw) > 0 {
		meta["raw"] = e.Raw
	}

	return meta
}

// wrap attaches the error to the sentinel owning its leg. Legs this
// package does not know fall back to ErrUnexpectedResponse.
func (e *ProviderError) wrap() error {
	return e.wrapAs(legSentinels[e.Operation])
}

// wrapAs attaches the error to a specific sentinel instead of the one
// its leg implies, e.g. a well-formed token response that is missing
// the access token.
func (e *ProviderError) wrapAs(base *goerrors.Error) error {
	if base == nil {
		base = ErrUnexpectedResponse
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	clone.Source = e

	return clone.WithMetadata(e.Metadata())
}

// asProviderError boxes an arbitrary failure, reusing an existing
// ProviderError in the chain and filling in the leg it surfaced from.
func asProviderError(provider, operation string, err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		if perr.Provider == "" {
			perr.Provider = provider
		}
		if perr.Operation == "" {
			perr.Operation = operation
		}
		return perr
	}

	return &ProviderError{Provider: provider, Operation: operation, Err: err}
}

// WrapProfileError normalizes any failure during profile retrieval
// into ErrProfileRetrieval, whatever call it came from. Concrete
// providers that fetch profile data themselves use this to stay on the
// common taxonomy.
func WrapProfileError(provider string, err error) error {
	return asProviderError(provider, opProfile, err).wrapAs(ErrProfileRetrieval)
}
