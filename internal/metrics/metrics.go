package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_batch_cycles_total",
			Help: "Audio batch cycles by result",
		},
		[]string{"trigger", "result"},
	)

	UploadAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_upload_attempts_total",
			Help: "Blob upload attempts by result",
		},
		[]string{"result"},
	)

	UploadedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "companion_uploaded_bytes_total",
			Help: "Bytes uploaded to the audio bucket",
		},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_call_sync_runs_total",
			Help: "Call sync runs by kind and result",
		},
		[]string{"kind", "result"},
	)

	SyncedCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "companion_synced_calls_total",
			Help: "Call records written to the record store",
		},
	)

	SessionStates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_session_state_transitions_total",
			Help: "Session state transitions by target state",
		},
		[]string{"state"},
	)

	ProvisionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_provision_requests_total",
			Help: "Token and avatar provisioning requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	KeywordMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_keyword_matches_total",
			Help: "Speech cue keyword matches",
		},
		[]string{"keyword"},
	)
)
