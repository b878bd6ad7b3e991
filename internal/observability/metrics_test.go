package observability

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMacCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewMacCollector(reg)
	if err != nil {
		t.Fatalf("NewMacCollector: %v", err)
	}

	c.ObserveTbtp("ut-1", 3)
	c.ObserveTransmission("ut-1", 100)
	c.ObserveTransmission("ut-1", 23)
	c.ObserveIdleSlot("ut-1")
	c.ObserveControlMessage("ut-1", "TBTP")

	if got := testutil.ToFloat64(c.TbtpsReceived.WithLabelValues("ut-1")); got != 1 {
		t.Fatalf("mac_tbtps_received_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.SlotsScheduled.WithLabelValues("ut-1")); got != 3 {
		t.Fatalf("mac_slots_scheduled_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.BytesSent.WithLabelValues("ut-1")); got != 123 {
		t.Fatalf("mac_bytes_sent_total = %v, want 123", got)
	}
	if got := testutil.ToFloat64(c.IdleSlots.WithLabelValues("ut-1")); got != 1 {
		t.Fatalf("mac_idle_slots_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ControlMessages.WithLabelValues("ut-1", "TBTP")); got != 1 {
		t.Fatalf("mac_control_messages_total = %v, want 1", got)
	}
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var mc *MacCollector
	mc.ObserveTbtp("ut", 1)
	mc.ObserveTransmission("ut", 1)
	mc.ObserveIdleSlot("ut")

	var bc *BeamCollector
	bc.ObserveTbtp("beam-1", 1, 2, time.Millisecond)
	bc.SetPendingEvents(3)
}

func TestCollectorsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMacCollector(reg)
	if err != nil {
		t.Fatalf("NewMacCollector: %v", err)
	}
	second, err := NewMacCollector(reg)
	if err != nil {
		t.Fatalf("second NewMacCollector: %v", err)
	}

	second.ObserveIdleSlot("ut-9")
	if got := testutil.ToFloat64(first.IdleSlots.WithLabelValues("ut-9")); got != 1 {
		t.Fatalf("shared mac_idle_slots_total = %v, want 1", got)
	}
}

func TestBeamCollectorUtilization(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewBeamCollector(reg)
	if err != nil {
		t.Fatalf("NewBeamCollector: %v", err)
	}

	c.ObserveTbtp("beam-1", 6, 8, 50*time.Microsecond)
	if got := testutil.ToFloat64(c.SlotUtilization.WithLabelValues("beam-1")); got != 0.75 {
		t.Fatalf("beam_slot_utilization_ratio = %v, want 0.75", got)
	}
	if got := testutil.ToFloat64(c.SlotsAllocated.WithLabelValues("beam-1")); got != 6 {
		t.Fatalf("beam_slots_allocated_total = %v, want 6", got)
	}
	if count := histogramSampleCount(t, reg, "beam_tbtp_build_duration_seconds", nil); count != 1 {
		t.Fatalf("beam_tbtp_build_duration_seconds sample_count = %d, want 1", count)
	}

	c.SetPendingEvents(4)
	if got := testutil.ToFloat64(c.PendingEvents); got != 4 {
		t.Fatalf("sim_pending_events = %v, want 4", got)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewGRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewGRPCCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("grpc.health.v1.Health", "Check", "unary", "NotFound")); got != 1 {
		t.Fatalf("grpc_requests_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "grpc_request_duration_seconds", map[string]string{
		"service": "grpc.health.v1.Health",
		"method":  "Check",
		"type":    "unary",
	}); count != 1 {
		t.Fatalf("grpc_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestStreamInterceptorRecordsStreams(t *testing.T) {
	collector, err := NewGRPCCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewGRPCCollector: %v", err)
	}

	interceptor := collector.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch", IsServerStream: true}
	if err := interceptor(nil, nil, info, func(any, grpc.ServerStream) error { return nil }); err != nil {
		t.Fatalf("interceptor: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("grpc.health.v1.Health", "Watch", "stream", "OK")); got != 1 {
		t.Fatalf("grpc_requests_total = %v, want 1", got)
	}
}

func TestNilGRPCCollectorPassesThrough(t *testing.T) {
	var c *GRPCCollector
	resp, err := c.UnaryServerInterceptor()(context.Background(), "req", nil, func(ctx context.Context, req any) (any, error) {
		return req, nil
	})
	if err != nil || resp != "req" {
		t.Fatalf("interceptor = %v, %v; want req, nil", resp, err)
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in            string
		service, meth string
	}{
		{"/grpc.health.v1.Health/Check", "grpc.health.v1.Health", "Check"},
		{"Health/Watch", "Health", "Watch"},
		{"", "unknown", "unknown"},
		{"/justone", "unknown", "unknown"},
		{"/a/b/c", "unknown", "unknown"},
	}
	for _, tc := range cases {
		s, m := SplitMethod(tc.in)
		if s != tc.service || m != tc.meth {
			t.Errorf("SplitMethod(%q) = %q, %q; want %q, %q", tc.in, s, m, tc.service, tc.meth)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewMacCollector(reg)
	if err != nil {
		t.Fatalf("NewMacCollector: %v", err)
	}
	c.ObserveTbtp("ut-2", 1)

	rec := httptest.NewRecorder()
	Handler(c.Gatherer()).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `mac_tbtps_received_total{ut="ut-2"} 1`) {
		t.Fatalf("metrics body missing TBTP counter:\n%s", rec.Body.String())
	}
}

func histogramSampleCount(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestPhyCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPhyCollector(reg)
	if err != nil {
		t.Fatalf("NewPhyCollector: %v", err)
	}

	c.ObserveReceived("gw")
	c.ObserveDropped("gw", "error_model")
	c.SetChannelState("ut-1", 2, 41.5)

	if got := testutil.ToFloat64(c.PacketsDropped.WithLabelValues("gw", "error_model")); got != 1 {
		t.Fatalf("phy_packets_dropped_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ChannelState.WithLabelValues("ut-1")); got != 2 {
		t.Fatalf("phy_markov_channel_state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Elevation.WithLabelValues("ut-1")); got != 41.5 {
		t.Fatalf("phy_satellite_elevation_degrees = %v, want 41.5", got)
	}

	var nilCollector *PhyCollector
	nilCollector.ObserveReceived("gw")
}
