package formula

// Stage is a state of the install pipeline.
type Stage int

// Pipeline stages in execution order. Failed is terminal and reachable from any stage.
const (
	StagePending Stage = iota
	StageFetched
	StageVerified
	StageUnpacked
	StageBuilt
	StageInstalled
	StageSelfTested
	StageDone
	StageFailed
)

// String returns the stage name used in logs and diagnostics.
func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageFetched:
		return "fetched"
	case StageVerified:
		return "verified"
	case StageUnpacked:
		return "unpacked"
	case StageBuilt:
		return "built"
	case StageInstalled:
		return "installed"
	case StageSelfTested:
		return "self-tested"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Next returns the stage that follows s on success.
// Done and Failed have no successor and return themselves.
func (s Stage) Next() Stage {
	if s >= StageDone {
		return s
	}

	return s + 1
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// CanTransition reports whether the pipeline may move from s to to.
func (s Stage) CanTransition(to Stage) bool {
	if s.Terminal() {
		return false
	}

	return to == StageFailed || to == s.Next()
}
