//go:build !integration

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRedact(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "***"},
		{"payer-1", "***"},
		{"09121234567", "0912...67"},
		{"customer-4711", "cust...11"},
	}
	for _, tc := range cases {
		if got := Redact(tc.in); got != tc.want {
			t.Errorf("Redact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWithPullsContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := context.Background()
	ctx = WithTraceID(ctx, "t-1")
	ctx = WithIntentID(ctx, "i-1")
	ctx = WithOrderRef(ctx, "ord-1")
	ctx = WithGateway(ctx, "mellat")

	With(ctx, &base).Info().Msg("hello")
	line := buf.String()
	for _, want := range []string{`"trace_id":"t-1"`, `"intent_id":"i-1"`, `"order_ref":"ord-1"`, `"gateway":"mellat"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line misses %s: %s", want, line)
		}
	}

	buf.Reset()
	With(context.Background(), &base).Info().Msg("bare")
	if strings.Contains(buf.String(), "trace_id") {
		t.Fatalf("empty context must add no fields: %s", buf.String())
	}
}
