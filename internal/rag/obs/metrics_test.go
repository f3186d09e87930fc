package obs

import "testing"

func TestMockMetrics_RecordsCountsAndHists(t *testing.T) {
	m := NewMockMetrics()
	m.IncCounter("ingestion_chunks_total", map[string]string{"kind": "doc"})
	m.IncCounter("ingestion_chunks_total", map[string]string{"kind": "doc"})
	m.ObserveHistogram("embedding_latency_ms", 12, map[string]string{"stage": "embed"})
	m.ObserveHistogram("embedding_latency_ms", 34, map[string]string{"stage": "embed"})

	if m.Counters["ingestion_chunks_total"] != 2 {
		t.Fatalf("expected 2 chunks, got %d", m.Counters["ingestion_chunks_total"])
	}
	if len(m.Hists["embedding_latency_ms"]) != 2 {
		t.Fatalf("expected 2 histogram records, got %d", len(m.Hists["embedding_latency_ms"]))
	}
}

func TestNoopMetricsDoesNotPanic(t *testing.T) {
	var m NoopMetrics
	m.IncCounter("x", nil)
	m.ObserveHistogram("y", 1.0, nil)
}
