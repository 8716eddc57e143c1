package metrics

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWriteSummaryIncludesObservedSamples(t *testing.T) {
	before := testutil.ToFloat64(apiRequests.WithLabelValues("GET", "2xx"))
	ObserveAPIRequest("GET", 200)
	if got := testutil.ToFloat64(apiRequests.WithLabelValues("GET", "2xx")); got != before+1 {
		t.Fatalf("expected counter to increase by 1, got %v -> %v", before, got)
	}
	ObserveMessage("progress")

	var buf bytes.Buffer
	if err := WriteSummary(&buf); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `kanuni_api_requests_total{code="2xx",method="GET"}`) {
		t.Fatalf("missing api request sample in:\n%s", out)
	}
	if !strings.Contains(out, `kanuni_stream_messages_total{type="progress"}`) {
		t.Fatalf("missing message sample in:\n%s", out)
	}
}

func TestObserveAPIRequestWithoutResponse(t *testing.T) {
	before := testutil.ToFloat64(apiRequests.WithLabelValues("POST", "error"))
	ObserveAPIRequest("POST", 0)
	if got := testutil.ToFloat64(apiRequests.WithLabelValues("POST", "error")); got != before+1 {
		t.Fatalf("expected error bucket to increase, got %v -> %v", before, got)
	}
}
