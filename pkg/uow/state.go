package uow

// State is the tracking state of an entity within a unit of work.
type State int

// Tracking states
const (
	// Detached entities are no longer written; an Added entity removed
	// before commit ends here.
	Detached State = iota
	Unmodified
	Added
	Modified
	// Deleted is the marked-for-removal state the pre-commit pass inspects.
	Deleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Unmodified:
		return "unmodified"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}
