package stashkv

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// One background sweep finished cleanly.
	SweepCompleted()

	// One background sweep failed. The loop keeps running.
	SweepFailed(err error)

	// A non-transactional BatchSet could not write every key.
	BatchSetPartial(failed []string)

	// A WithTransaction block returned an error and was rolled back.
	TransactionRolledBack(err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SweepCompleted()             {}
func (NopHooks) SweepFailed(error)           {}
func (NopHooks) BatchSetPartial([]string)    {}
func (NopHooks) TransactionRolledBack(error) {}
