package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveCallsProvider exposes the number of live call sessions.
type ActiveCallsProvider interface {
	Active() int
}

// LineStatusEntry is the status of one SIP line for metrics.
type LineStatusEntry struct {
	LineID int64
	Name   string
	Status string
}

// LineStatusProvider exposes line registration statuses.
type LineStatusProvider interface {
	LineStatuses() []LineStatusEntry
}

// RTPStatsProvider returns aggregate RTP transport statistics.
type RTPStatsProvider interface {
	ActiveEndpointCount() int
	PacketsReceived() uint64
	PacketsSent() uint64
	PacketsInvalid() uint64
	FramesDropped() uint64
	JitterOverruns() uint64
	JitterUnderruns() uint64
}

// ChunkStatsProvider returns utterance chunking statistics.
type ChunkStatsProvider interface {
	ChunksEmitted() uint64
	ChunksTranscribed() uint64
}

// Collector is a prometheus.Collector that gathers voicebridge metrics at
// scrape time. Any provider may be nil if unavailable.
type Collector struct {
	calls     ActiveCallsProvider
	lines     LineStatusProvider
	rtp       RTPStatsProvider
	chunks    ChunkStatsProvider
	startTime time.Time

	activeCallsDesc       *prometheus.Desc
	lineStatusDesc        *prometheus.Desc
	rtpEndpointsDesc      *prometheus.Desc
	rtpPacketsInDesc      *prometheus.Desc
	rtpPacketsOutDesc     *prometheus.Desc
	rtpPacketsInvalidDesc *prometheus.Desc
	framesDroppedDesc     *prometheus.Desc
	jitterOverrunsDesc    *prometheus.Desc
	jitterUnderrunsDesc   *prometheus.Desc
	chunksEmittedDesc     *prometheus.Desc
	chunksTranscribedDesc *prometheus.Desc
	uptimeDesc            *prometheus.Desc
}

// NewCollector creates a metrics collector.
func NewCollector(calls ActiveCallsProvider, lines LineStatusProvider, rtp RTPStatsProvider, chunks ChunkStatsProvider, startTime time.Time) *Collector {
	return &Collector{
		calls:     calls,
		lines:     lines,
		rtp:       rtp,
		chunks:    chunks,
		startTime: startTime,

		activeCallsDesc: prometheus.NewDesc(
			"voicebridge_active_calls",
			"Number of currently live call sessions",
			nil, nil,
		),
		lineStatusDesc: prometheus.NewDesc(
			"voicebridge_line_status",
			"SIP line registration status (1=connected, 0=other)",
			[]string{"line_id", "name", "status"}, nil,
		),
		rtpEndpointsDesc: prometheus.NewDesc(
			"voicebridge_rtp_endpoints_active",
			"Number of allocated RTP endpoints",
			nil, nil,
		),
		rtpPacketsInDesc: prometheus.NewDesc(
			"voicebridge_rtp_packets_received_total",
			"Total valid RTP packets received across all calls",
			nil, nil,
		),
		rtpPacketsOutDesc: prometheus.NewDesc(
			"voicebridge_rtp_packets_sent_total",
			"Total RTP packets sent across all calls",
			nil, nil,
		),
		rtpPacketsInvalidDesc: prometheus.NewDesc(
			"voicebridge_rtp_packets_invalid_total",
			"Total inbound datagrams rejected as invalid RTP",
			nil, nil,
		),
		framesDroppedDesc: prometheus.NewDesc(
			"voicebridge_audio_frames_dropped_total",
			"Total inbound audio frames dropped before processing",
			nil, nil,
		),
		jitterOverrunsDesc: prometheus.NewDesc(
			"voicebridge_jitter_overruns_total",
			"Total jitter buffer entries evicted due to overflow",
			nil, nil,
		),
		jitterUnderrunsDesc: prometheus.NewDesc(
			"voicebridge_jitter_underruns_total",
			"Total timed jitter buffer reads that found no data",
			nil, nil,
		),
		chunksEmittedDesc: prometheus.NewDesc(
			"voicebridge_chunks_emitted_total",
			"Total utterance chunks cut from call audio",
			nil, nil,
		),
		chunksTranscribedDesc: prometheus.NewDesc(
			"voicebridge_chunks_transcribed_total",
			"Total utterance chunks sent through the transcriber",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voicebridge_uptime_seconds",
			"Seconds since the voicebridge process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.lineStatusDesc
	ch <- c.rtpEndpointsDesc
	ch <- c.rtpPacketsInDesc
	ch <- c.rtpPacketsOutDesc
	ch <- c.rtpPacketsInvalidDesc
	ch <- c.framesDroppedDesc
	ch <- c.jitterOverrunsDesc
	ch <- c.jitterUnderrunsDesc
	ch <- c.chunksEmittedDesc
	ch <- c.chunksTranscribedDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.calls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.calls.Active()),
		)
	}

	if c.lines != nil {
		for _, l := range c.lines.LineStatuses() {
			val := 0.0
			if l.Status == "connected" {
				val = 1.0
			}
			ch <- prometheus.MustNewConstMetric(
				c.lineStatusDesc, prometheus.GaugeValue, val,
				fmt.Sprintf("%d", l.LineID), l.Name, l.Status,
			)
		}
	}

	if c.rtp != nil {
		ch <- prometheus.MustNewConstMetric(
			c.rtpEndpointsDesc, prometheus.GaugeValue,
			float64(c.rtp.ActiveEndpointCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.rtpPacketsInDesc, prometheus.CounterValue,
			float64(c.rtp.PacketsReceived()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.rtpPacketsOutDesc, prometheus.CounterValue,
			float64(c.rtp.PacketsSent()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.rtpPacketsInvalidDesc, prometheus.CounterValue,
			float64(c.rtp.PacketsInvalid()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.framesDroppedDesc, prometheus.CounterValue,
			float64(c.rtp.FramesDropped()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.jitterOverrunsDesc, prometheus.CounterValue,
			float64(c.rtp.JitterOverruns()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.jitterUnderrunsDesc, prometheus.CounterValue,
			float64(c.rtp.JitterUnderruns()),
		)
	}

	if c.chunks != nil {
		ch <- prometheus.MustNewConstMetric(
			c.chunksEmittedDesc, prometheus.CounterValue,
			float64(c.chunks.ChunksEmitted()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.chunksTranscribedDesc, prometheus.CounterValue,
			float64(c.chunks.ChunksTranscribed()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
