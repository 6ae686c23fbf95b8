package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_Retryable(t *testing.T) {
	assert.True(t, KindNoNetwork.Retryable())
	assert.True(t, KindTimeout.Retryable())
	assert.False(t, KindServer.Retryable())
	assert.False(t, KindUnknown.Retryable())
}

func TestCodeForStatus(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, CodeInvalidRequest},
		{http.StatusUnauthorized, CodeInvalidCredentials},
		{http.StatusForbidden, CodeForbidden},
		{http.StatusNotFound, CodeNotFound},
		{http.StatusConflict, CodeConflict},
		{http.StatusTooManyRequests, CodeRateLimited},
		{http.StatusInternalServerError, CodeInternal},
		{http.StatusBadGateway, CodeInternal},
		{http.StatusTeapot, CodeInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, CodeForStatus(tc.status), "status %d", tc.status)
	}
}

func TestFromResponse(t *testing.T) {
	t.Run("primary body passes the server code through", func(t *testing.T) {
		err := FromResponse(404, []byte(`{"errorCode":"BENCH_NOT_FOUND","message":"no such bench"}`))

		assert.Equal(t, KindServer, err.Kind)
		assert.Equal(t, "BENCH_NOT_FOUND", err.Code)
		assert.Equal(t, 404, err.Status)
		assert.Equal(t, "no such bench", err.Message)
		assert.True(t, err.IsStatus(404))
	})

	t.Run("legacy body derives the code from the status", func(t *testing.T) {
		err := FromResponse(409, []byte(`{"error":"already exists"}`))

		assert.Equal(t, KindServer, err.Kind)
		assert.Equal(t, CodeConflict, err.Code)
		assert.Equal(t, "already exists", err.Message)
	})

	t.Run("bodyless response falls back to the status line", func(t *testing.T) {
		err := FromResponse(503, nil)

		assert.Equal(t, KindServer, err.Kind)
		assert.Equal(t, CodeInternal, err.Code)
		assert.Equal(t, http.StatusText(503), err.Message)
	})

	t.Run("non-JSON body falls back to the status line", func(t *testing.T) {
		err := FromResponse(500, []byte("<html>gateway exploded</html>"))

		assert.Equal(t, KindServer, err.Kind)
		assert.Equal(t, CodeInternal, err.Code)
	})

	t.Run("primary body without errorCode is treated as legacy or bare", func(t *testing.T) {
		err := FromResponse(400, []byte(`{"message":"missing name"}`))

		assert.Equal(t, CodeInvalidRequest, err.Code)
		assert.Equal(t, http.StatusText(400), err.Message)
	})
}

func TestClassify(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Classify(nil))
	})

	t.Run("already classified errors pass through unchanged", func(t *testing.T) {
		orig := &Error{Kind: KindServer, Code: "BENCH_NOT_FOUND", Status: 404}

		got := Classify(fmt.Errorf("push failed: %w", orig))

		assert.Same(t, orig, got)
	})

	t.Run("deadline exceeded classifies as timeout", func(t *testing.T) {
		got := Classify(fmt.Errorf("request: %w", context.DeadlineExceeded))

		assert.Equal(t, KindTimeout, got.Kind)
		assert.True(t, got.Kind.Retryable())
	})

	t.Run("dns failure classifies as no network", func(t *testing.T) {
		dnsErr := &net.DNSError{Err: "no such host", Name: "api.example.invalid", IsNotFound: true}
		got := Classify(&url.Error{Op: "Post", URL: "http://api.example.invalid", Err: dnsErr})

		assert.Equal(t, KindNoNetwork, got.Kind)
	})

	t.Run("connection refused classifies as no network", func(t *testing.T) {
		opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		got := Classify(&url.Error{Op: "Post", URL: "http://localhost:1", Err: opErr})

		assert.Equal(t, KindNoNetwork, got.Kind)
	})

	t.Run("unauthenticated classifies as a 401 server error, never unknown", func(t *testing.T) {
		got := Classify(fmt.Errorf("credential refresh rejected: %w", ErrUnauthenticated))

		require.Equal(t, KindServer, got.Kind)
		assert.Equal(t, CodeInvalidCredentials, got.Code)
		assert.Equal(t, http.StatusUnauthorized, got.Status)
		assert.True(t, errors.Is(got, ErrUnauthenticated))
	})

	t.Run("anything else is unknown", func(t *testing.T) {
		got := Classify(errors.New("corrupt row"))

		assert.Equal(t, KindUnknown, got.Kind)
		assert.False(t, got.Kind.Retryable())
	})
}

func TestUserMessage(t *testing.T) {
	t.Run("connectivity failures reassure that work is saved", func(t *testing.T) {
		msg := UserMessage(&Error{Kind: KindNoNetwork})
		assert.Contains(t, msg, "saved")

		msg = UserMessage(&Error{Kind: KindTimeout})
		assert.Contains(t, msg, "sync later")
	})

	t.Run("known server codes map to their copy", func(t *testing.T) {
		msg := UserMessage(&Error{Kind: KindServer, Code: CodeConflict, Status: 409})
		assert.Contains(t, msg, "refresh")
	})

	t.Run("unknown server code falls back to its status category", func(t *testing.T) {
		msg := UserMessage(&Error{Kind: KindServer, Code: "BENCH_NOT_FOUND", Status: 404})
		assert.Equal(t, userMessages[CodeNotFound], msg)
	})

	t.Run("unknown code and status fall back to generic copy", func(t *testing.T) {
		msg := UserMessage(&Error{Kind: KindServer, Code: "SOMETHING_ODD", Status: 418})
		assert.Equal(t, userMessages[CodeInternal], msg)
	})

	t.Run("unknown kind gets the generic line", func(t *testing.T) {
		assert.Equal(t, genericMessage, UserMessage(&Error{Kind: KindUnknown}))
	})
}
