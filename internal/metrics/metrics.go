package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the client-side collectors. It is separate from the default
// registry so nothing else linked into the binary shows up in dumps.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	streamConnects = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "kanuni_stream_connects_total",
		Help: "Stream connection attempts grouped by outcome",
	}, []string{"status"})

	streamReconnectAttempts = factory.NewCounter(prometheus.CounterOpts{
		Name: "kanuni_stream_reconnect_attempts_total",
		Help: "Reconnection attempts made after a dropped stream",
	})

	streamMessages = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "kanuni_stream_messages_total",
		Help: "Inbound stream messages grouped by message type",
	}, []string{"type"})

	streamProtocolErrors = factory.NewCounter(prometheus.CounterOpts{
		Name: "kanuni_stream_protocol_errors_total",
		Help: "Inbound frames discarded because they could not be decoded",
	})

	streamDroppedEvents = factory.NewCounter(prometheus.CounterOpts{
		Name: "kanuni_stream_dropped_events_total",
		Help: "Progress events dropped because the event queue was full",
	})

	tokenRefreshes = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "kanuni_token_refresh_total",
		Help: "OAuth token refreshes grouped by outcome",
	}, []string{"status"})

	apiRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "kanuni_api_requests_total",
		Help: "REST requests grouped by method and status class",
	}, []string{"method", "code"})
)

// ObserveConnect records the outcome of a stream connect attempt.
func ObserveConnect(success bool) {
	streamConnects.WithLabelValues(outcome(success)).Inc()
}

// ObserveReconnectAttempt counts one reconnection attempt.
func ObserveReconnectAttempt() {
	streamReconnectAttempts.Inc()
}

// ObserveMessage counts an inbound message by its discriminator.
func ObserveMessage(messageType string) {
	if messageType == "" {
		messageType = "unknown"
	}
	streamMessages.WithLabelValues(messageType).Inc()
}

// ObserveProtocolError counts a discarded inbound frame.
func ObserveProtocolError() {
	streamProtocolErrors.Inc()
}

// ObserveDroppedEvent counts a progress event that did not fit in the queue.
func ObserveDroppedEvent() {
	streamDroppedEvents.Inc()
}

// ObserveTokenRefresh records a refresh outcome.
func ObserveTokenRefresh(success bool) {
	tokenRefreshes.WithLabelValues(outcome(success)).Inc()
}

// ObserveAPIRequest records a completed REST call. status 0 means the request
// never got a response.
func ObserveAPIRequest(method string, status int) {
	code := "error"
	if status > 0 {
		code = fmt.Sprintf("%dxx", status/100)
	}
	apiRequests.WithLabelValues(method, code).Inc()
}

// ReconnectAttempts returns the current reconnect counter value.
func ReconnectAttempts() prometheus.Counter {
	return streamReconnectAttempts
}

// TokenRefreshes exposes the refresh counter for assertions.
func TokenRefreshes() *prometheus.CounterVec {
	return tokenRefreshes
}

// ProtocolErrors exposes the protocol error counter for assertions.
func ProtocolErrors() prometheus.Counter {
	return streamProtocolErrors
}

// WriteSummary prints every non-zero sample in the registry as
// "name{labels} value" lines, sorted by name.
func WriteSummary(w io.Writer) error {
	families, err := Registry.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			default:
				continue
			}
			if value == 0 {
				continue
			}
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			lines = append(lines, fmt.Sprintf("%s %g", name, value))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
