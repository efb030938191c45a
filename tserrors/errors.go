// Package tserrors defines the error kinds from spec.md §7 as sentinel
// errors, grounded on the teacher's sentinel-error style in
// dbnode/encoding/m3tsz/encoder.go (errEncoderClosed, errNoEncodedDatapoints)
// rather than a custom exception hierarchy.
package tserrors

import "errors"

// Kind classifies an error into one of the buckets spec.md §7 names, so
// callers can decide policy (drop-and-count vs. retry vs. cancel-subtree)
// without string-matching messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindIngestLocal
	KindFlush
	KindQueryPlan
	KindQueryExec
	KindDownsample
)

func (k Kind) String() string {
	switch k {
	case KindIngestLocal:
		return "ingest-local"
	case KindFlush:
		return "flush"
	case KindQueryPlan:
		return "query-plan"
	case KindQueryExec:
		return "query-exec"
	case KindDownsample:
		return "downsample"
	default:
		return "unknown"
	}
}

// Sentinel errors. Wrap with fmt.Errorf("...: %w", Err...) to add context
// while preserving errors.Is matchability.
var (
	// Ingest-local
	ErrOutOfOrderSample  = errors.New("tscore: out of order sample")
	ErrSchemaMismatch    = errors.New("tscore: schema mismatch")
	ErrBufferPoolExhausted = errors.New("tscore: write buffer pool exhausted")

	// Flush
	ErrRemoteWriteTimeout  = errors.New("tscore: remote write timeout")
	ErrRemoteWriteRejected = errors.New("tscore: remote write rejected")

	// Query-plan
	ErrBadQuery       = errors.New("tscore: bad query plan")
	ErrUndefinedColumn = errors.New("tscore: undefined column")
	ErrUnknownDataset = errors.New("tscore: unknown dataset")

	// Query-exec
	ErrQueryTimeout      = errors.New("tscore: query deadline exceeded")
	ErrQueryLimitReached = errors.New("tscore: query sample limit reached")
	ErrRemoteReadError   = errors.New("tscore: remote read error")

	// Downsample
	ErrPeriodMarkerMismatch = errors.New("tscore: counter period marker applied to non-counter column")
)

var kindOf = map[error]Kind{
	ErrOutOfOrderSample:    KindIngestLocal,
	ErrSchemaMismatch:      KindIngestLocal,
	ErrBufferPoolExhausted: KindIngestLocal,

	ErrRemoteWriteTimeout:  KindFlush,
	ErrRemoteWriteRejected: KindFlush,

	ErrBadQuery:        KindQueryPlan,
	ErrUndefinedColumn: KindQueryPlan,
	ErrUnknownDataset:  KindQueryPlan,

	ErrQueryTimeout:      KindQueryExec,
	ErrQueryLimitReached: KindQueryExec,
	ErrRemoteReadError:   KindQueryExec,

	ErrPeriodMarkerMismatch: KindDownsample,
}

// KindOf classifies err by matching it (via errors.Is) against the known
// sentinels, returning KindUnknown for anything else.
func KindOf(err error) Kind {
	for sentinel, kind := range kindOf {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// IsFatalToSubtree reports whether err must cancel the entire exec-plan
// subtree (spec.md §7 policy: "no best-effort partial answers") as opposed
// to being counted and otherwise ignored (ingest-local errors only).
func IsFatalToSubtree(err error) bool {
	return KindOf(err) != KindIngestLocal
}
