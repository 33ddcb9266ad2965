// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package metrics declares the process-wide Prometheus collectors. They
// register on the default registry; binaries expose them by mounting
// promhttp on their metrics listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests by surface (serve, control, admin)
	// and response code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedock_requests_total",
		Help: "HTTP requests handled, by surface and status code.",
	}, []string{"surface", "code"})

	// AssetFetchSeconds observes blob store latency for asset body reads.
	AssetFetchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pagedock_asset_fetch_seconds",
		Help:    "Latency of asset blob fetches from the backing store.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	// AssetCacheTotal counts asset responses by cache latency class.
	AssetCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedock_asset_cache_total",
		Help: "Asset responses by X-Asset-Cache-Status value.",
	}, []string{"status"})

	// WatchdogDeletionsTotal counts projects removed by the watchdog.
	WatchdogDeletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedock_watchdog_deletions_total",
		Help: "Projects deleted by the watchdog, by classification reason.",
	}, []string{"reason"})

	// UploadBytesTotal counts asset bytes accepted by the upload endpoint.
	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagedock_upload_bytes_total",
		Help: "Asset bytes accepted across all upload sessions.",
	})
)
