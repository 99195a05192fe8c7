package ui

import "sync/atomic"

type Stats struct {
	TotalManuals atomic.Int64
	TotalPages   atomic.Int64
	TotalChars   atomic.Int64
	Skipped      atomic.Int64
	Failed       atomic.Int64
	Retried      atomic.Int64
}
