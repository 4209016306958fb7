package app

// Operation statuses written to the journal.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks a CLI command that may mutate the store.
// Operations start in memory with ID=0; only mutating commands persist
// them, which assigns the journal ID that also versions the DB snapshot.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewOperation creates a new in-memory operation that has not failed yet.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as errored. It cannot be undone.
func (op *Operation) Fail() {
	op.Status = StatusError
}
