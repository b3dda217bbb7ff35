package conduct

// IsolationLevel describes the isolation a transaction requests from its
// participants. The coordinator records and forwards the level; enforcing
// it is the participant's responsibility.
type IsolationLevel string

const (
	ReadUncommitted IsolationLevel = "read_uncommitted"
	ReadCommitted   IsolationLevel = "read_committed"
	RepeatableRead  IsolationLevel = "repeatable_read"
	Serializable    IsolationLevel = "serializable"
)
