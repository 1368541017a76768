package metrics

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts frames received from the push feed, by frame type.
	FramesTotal *prometheus.CounterVec

	// FrameDecodeFailures counts frames whose payload could not be decoded.
	// Such frames are skipped, never fatal.
	FrameDecodeFailures prometheus.Counter

	// ReconnectsTotal counts reconnect attempts after a transport drop.
	ReconnectsTotal prometheus.Counter

	// MergesTotal counts reconciliation outcomes: "confirmed" (an optimistic
	// entry was superseded), "patched", "inserted", "deleted", "noop".
	MergesTotal *prometheus.CounterVec

	ContextCacheHits   prometheus.Counter
	ContextCacheMisses prometheus.Counter
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseLabels parses a comma-separated list of key=value pairs into Prometheus
// labels. Values support ${VAR} / $VAR environment variable expansion. Label
// values may not contain commas. Returns nil for an empty string.
func ParseLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

// Recording helpers are no-ops until Init has run, so unit tests of the
// components do not need a registered metrics set.

func CountFrame(frameType string) {
	if FramesTotal != nil {
		FramesTotal.WithLabelValues(frameType).Inc()
	}
}

func CountDecodeFailure() {
	if FrameDecodeFailures != nil {
		FrameDecodeFailures.Inc()
	}
}

func CountReconnect() {
	if ReconnectsTotal != nil {
		ReconnectsTotal.Inc()
	}
}

func CountMerge(outcome string) {
	if MergesTotal != nil {
		MergesTotal.WithLabelValues(outcome).Inc()
	}
}

func CountCacheHit() {
	if ContextCacheHits != nil {
		ContextCacheHits.Inc()
	}
}

func CountCacheMiss() {
	if ContextCacheMisses != nil {
		ContextCacheMisses.Inc()
	}
}

var initOnce sync.Once

// Init registers all Prometheus metrics with the given constant labels.
// Safe to call multiple times; only the first call registers.
func Init(constLabels prometheus.Labels) {
	initOnce.Do(func() {
		initInner(constLabels)
	})
}

func initInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	FramesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveview_frames_total",
			Help: "Total frames received from the push feed",
		},
		[]string{"type"},
	)

	FrameDecodeFailures = f.NewCounter(prometheus.CounterOpts{
		Name: "liveview_frame_decode_failures_total",
		Help: "Total frames skipped because the payload failed to decode",
	})

	ReconnectsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "liveview_reconnects_total",
		Help: "Total reconnect attempts after a transport drop",
	})

	MergesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveview_merges_total",
			Help: "Total reconciliation merges by outcome",
		},
		[]string{"outcome"},
	)

	ContextCacheHits = f.NewCounter(prometheus.CounterOpts{
		Name: "liveview_context_cache_hits_total",
		Help: "Total parent-context cache hits",
	})

	ContextCacheMisses = f.NewCounter(prometheus.CounterOpts{
		Name: "liveview_context_cache_misses_total",
		Help: "Total parent-context cache misses",
	})
}
