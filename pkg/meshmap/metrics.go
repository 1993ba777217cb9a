package meshmap

// Metrics is the optional observability sink a Map reports into. The
// default is a no-op; internal/telemetry provides a prometheus-backed
// implementation wired in by cmd/meshnode. Kept as an interface here so
// pkg/meshmap stays free of any particular metrics library import and
// callers embedding this map can supply their own.
type Metrics interface {
	SetEntries(n int)
	SetMembers(n int)
	IncRoleTransition(toRole string)
	IncReplicate(kind string) // "diff" | "full" | "access" | "skipped"
	ObserveRPC(op string, seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) SetEntries(int)            {}
func (noopMetrics) SetMembers(int)            {}
func (noopMetrics) IncRoleTransition(string)   {}
func (noopMetrics) IncReplicate(string)        {}
func (noopMetrics) ObserveRPC(string, float64) {}
