package fault

// Classification describes how the engine should treat an executor
// error code: whether it is transient or permanent, and whether a
// retry may succeed.
type Classification struct {
	Class     Class  `json:"class"`
	Retryable bool   `json:"retryable"`
	Message   string `json:"message"`
}

// Table maps executor error codes to classifications. Unknown codes
// default to transient/retryable so that a missing table entry never
// turns a recoverable hiccup into a dead-lettered job.
type Table struct {
	entries map[string]Classification
}

// NewTable builds a classification table from explicit entries.
func NewTable(entries map[string]Classification) *Table {
	cp := make(map[string]Classification, len(entries))
	for code, c := range entries {
		cp[code] = c
	}
	return &Table{entries: cp}
}

// DefaultTable returns a table with classifications for the error codes
// the document-evaluation executors are known to raise.
func DefaultTable() *Table {
	return NewTable(map[string]Classification{
		"UPSTREAM_TIMEOUT":     {Class: ClassTransient, Retryable: true, Message: "upstream call timed out"},
		"UPSTREAM_RATE_LIMIT":  {Class: ClassTransient, Retryable: true, Message: "upstream rate limited"},
		"STORAGE_UNAVAILABLE":  {Class: ClassTransient, Retryable: true, Message: "storage backend unavailable"},
		"DOCUMENT_CORRUPT":     {Class: ClassPermanent, Retryable: false, Message: "document cannot be parsed"},
		"DOCUMENT_UNSUPPORTED": {Class: ClassPermanent, Retryable: false, Message: "document format unsupported"},
		"PAYLOAD_INVALID":      {Class: ClassPermanent, Retryable: false, Message: "job payload failed validation"},
		"QUOTA_EXCEEDED":       {Class: ClassPermanent, Retryable: false, Message: "tenant quota exceeded"},
	})
}

// Set registers or replaces the classification for a code.
func (t *Table) Set(code string, c Classification) {
	t.entries[code] = c
}

// Lookup returns the classification for a code. Unknown codes are
// classified transient/retryable.
func (t *Table) Lookup(code string) Classification {
	if c, ok := t.entries[code]; ok {
		return c
	}
	return Classification{Class: ClassTransient, Retryable: true, Message: "unclassified error"}
}

// Known reports whether the table has an explicit entry for the code.
func (t *Table) Known(code string) bool {
	_, ok := t.entries[code]
	return ok
}

// Retryable reports whether the given code may succeed on retry.
func (t *Table) Retryable(code string) bool {
	return t.Lookup(code).Retryable
}
