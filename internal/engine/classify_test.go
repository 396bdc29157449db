package engine

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/discoflow/discoflow/model"
)

func forbiddenBody(status, reason string) string {
	return fmt.Sprintf(
		`{"error":{"code":403,"status":%q,"errors":[{"reason":%q}]}}`,
		status, reason,
	)
}

func TestClassifier_Classify_statusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		createCall bool
		want       model.Classification
	}{
		{"429 rate limited", 429, "", false, model.ClassRetryable},
		{"500 internal", 500, "", false, model.ClassRetryable},
		{"503 unavailable", 503, "", false, model.ClassRetryable},
		{"409 on creation", 409, `{"error":{"message":"already exists"}}`, true, model.ClassBenignDuplicate},
		{"409 on non-creation", 409, "", false, model.ClassFatal},
		{"400 bad request", 400, "", false, model.ClassFatal},
		{"404 not found", 404, "", false, model.ClassFatal},
		{"401 unauthorized", 401, "", false, model.ClassFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(tt.createCall)
			err := &model.RemoteError{StatusCode: tt.statusCode, Body: tt.body}
			if got := c.Classify(err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifier_Classify_forbidden(t *testing.T) {
	tests := []struct {
		name string
		body string
		want model.Classification
	}{
		{"permission denied status", forbiddenBody("PERMISSION_DENIED", "insufficientPermissions"), model.ClassFatal},
		{"forbidden reason", forbiddenBody("", "forbidden"), model.ClassFatal},
		{"disabled account reason", forbiddenBody("", "accountDisabled"), model.ClassFatal},
		{"rate-limit flavored 403", forbiddenBody("RESOURCE_EXHAUSTED", "userRateLimitExceeded"), model.ClassRetryable},
		{"unparseable body", "not json", model.ClassRetryable},
		{"empty body", "", model.ClassRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(false)
			err := &model.RemoteError{StatusCode: 403, Body: tt.body}
			if got := c.Classify(err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifier_Classify_forbidden_configurable(t *testing.T) {
	c := NewClassifier(false)
	c.FatalForbiddenReasons = []string{"quotaPolicyViolation"}

	body := forbiddenBody("", "quotaPolicyViolation")
	got := c.Classify(&model.RemoteError{StatusCode: 403, Body: body})
	if got != model.ClassFatal {
		t.Errorf("Classify() with custom reason = %v, want %v", got, model.ClassFatal)
	}

	// The defaults no longer apply once overridden.
	body = forbiddenBody("", "forbidden")
	got = c.Classify(&model.RemoteError{StatusCode: 403, Body: body})
	if got != model.ClassRetryable {
		t.Errorf("Classify() with replaced defaults = %v, want %v", got, model.ClassRetryable)
	}
}

func TestClassifier_Classify_transport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.Classification
	}{
		{"connection reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, model.ClassRetryable},
		{"broken pipe", &net.OpError{Op: "write", Err: syscall.EPIPE}, model.ClassRetryable},
		{"dns failure", &net.DNSError{Err: "no such host", IsTimeout: false}, model.ClassRetryable},
		{"unexpected eof", io.ErrUnexpectedEOF, model.ClassRetryable},
		{"eof", io.EOF, model.ClassRetryable},
		{"deadline exceeded", os.ErrDeadlineExceeded, model.ClassRetryable},
		{"wrapped reset", fmt.Errorf("posting: %w", &net.OpError{Op: "read", Err: syscall.ECONNRESET}), model.ClassRetryable},
		{"plain error", errors.New("something else entirely"), model.ClassFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(false)
			if got := c.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifier_Classify_tls(t *testing.T) {
	c := NewClassifier(false)

	timeout := errors.New("net/http: TLS handshake timeout")
	if got := c.Classify(timeout); got != model.ClassRetryable {
		t.Errorf("Classify(handshake timeout) = %v, want %v", got, model.ClassRetryable)
	}

	// Certificate problems are not transient.
	badRecord := tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}
	if got := c.Classify(badRecord); got != model.ClassFatal {
		t.Errorf("Classify(record header error) = %v, want %v", got, model.ClassFatal)
	}
}

func TestClassifier_Classify_nil(t *testing.T) {
	c := NewClassifier(false)
	if got := c.Classify(nil); got != model.ClassFatal {
		t.Errorf("Classify(nil) = %v, want %v", got, model.ClassFatal)
	}
}
