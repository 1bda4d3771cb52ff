// Package metrics exposes the engine's prometheus counters. Everything here
// is registered on the default registry and served by /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansRecorded counts scan events accepted by the ledger.
	ScansRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schoolops_scans_recorded_total",
		Help: "Scan events appended to the ledger.",
	})

	// ScanDuplicates counts idempotent scan resubmissions.
	ScanDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schoolops_scan_duplicates_total",
		Help: "Scan events rejected as duplicates of an existing identity.",
	})

	// MarksRecorded counts attendance marks accepted by the store.
	MarksRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schoolops_attendance_marks_total",
		Help: "Attendance marks inserted.",
	})

	// PickupTransitions counts workflow transitions by resulting status.
	PickupTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolops_pickup_transitions_total",
		Help: "Pickup workflow transitions by resulting status.",
	}, []string{"to"})

	// PickupRejections counts refused workflow operations by reason.
	PickupRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schoolops_pickup_rejections_total",
		Help: "Pickup workflow operations refused, by reason.",
	}, []string{"reason"})
)
