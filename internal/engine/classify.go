// Package engine builds and executes calls against remote services
// described by interface documents, layering retry, pagination, and
// argument binding on top of a plain HTTP transport.
package engine

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/discoflow/discoflow/model"
)

// Default fatal 403 categories. Product-specific reason strings vary, so
// the set is configurable; these two are the common cases.
var (
	defaultFatalForbiddenStatuses = []string{"PERMISSION_DENIED"}
	defaultFatalForbiddenReasons  = []string{"forbidden", "accountDisabled"}
)

// Classifier categorizes a raw failure as retryable, fatal, or a benign
// duplicate. Classification fails closed: anything unrecognized is fatal,
// never retried blindly.
type Classifier struct {
	// CreateCall marks the bound call as a creation, turning an
	// already-exists conflict into a no-op success.
	CreateCall bool

	// Fatal 403 categories. A 403 whose body matches neither set is
	// treated as a rate limit and retried.
	FatalForbiddenStatuses []string
	FatalForbiddenReasons  []string
}

// NewClassifier returns a Classifier with the default 403 categories.
func NewClassifier(createCall bool) *Classifier {
	return &Classifier{
		CreateCall:             createCall,
		FatalForbiddenStatuses: defaultFatalForbiddenStatuses,
		FatalForbiddenReasons:  defaultFatalForbiddenReasons,
	}
}

// Classify returns the handling strategy for err.
func (c *Classifier) Classify(err error) model.Classification {
	if err == nil {
		return model.ClassFatal
	}

	var remote *model.RemoteError
	if errors.As(err, &remote) {
		return c.classifyRemote(remote)
	}

	if isTLSError(err) {
		// Handshake timeouts are transient; every other TLS failure is a
		// configuration or certificate problem that retrying cannot fix.
		if isTLSTimeout(err) {
			return model.ClassRetryable
		}
		return model.ClassFatal
	}

	if isConnectionError(err) {
		return model.ClassRetryable
	}

	return model.ClassFatal
}

func (c *Classifier) classifyRemote(remote *model.RemoteError) model.Classification {
	switch remote.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable:
		return model.ClassRetryable

	case http.StatusConflict:
		if c.CreateCall {
			return model.ClassBenignDuplicate
		}
		return model.ClassFatal

	case http.StatusForbidden:
		status, reason := forbiddenCategory(remote)
		for _, s := range c.FatalForbiddenStatuses {
			if status == s {
				return model.ClassFatal
			}
		}
		for _, r := range c.FatalForbiddenReasons {
			if reason == r {
				return model.ClassFatal
			}
		}
		// Remaining 403s are rate limits in disguise.
		return model.ClassRetryable

	default:
		return model.ClassFatal
	}
}

// forbiddenCategory extracts the status and first reason from a structured
// 403 body of the form {"error":{"status":..,"errors":[{"reason":..}]}}.
// Pre-parsed fields on the RemoteError take precedence.
func forbiddenCategory(remote *model.RemoteError) (status, reason string) {
	status, reason = remote.Status, remote.Reason
	if status != "" || reason != "" {
		return status, reason
	}

	var envelope struct {
		Error struct {
			Status string `json:"status"`
			Errors []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(remote.Body), &envelope) == nil {
		status = envelope.Error.Status
		if len(envelope.Error.Errors) > 0 {
			reason = envelope.Error.Errors[0].Reason
		}
	}
	return status, reason
}

// isConnectionError matches transport-level failures worth retrying:
// resets, refused or dropped connections, incomplete reads, DNS hiccups.
func isConnectionError(err error) bool {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	return false
}

// isTLSError reports whether err originated in the TLS layer. The
// transport's handshake timeout error is an unexported type, so it is
// matched by message.
func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &certInvalid) {
		return true
	}
	return isTLSTimeout(err)
}

func isTLSTimeout(err error) bool {
	return strings.Contains(err.Error(), "TLS handshake timeout")
}
