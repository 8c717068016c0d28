package job

import "encoding/json"

// Payload is a tagged-union envelope for per-type job payloads, with an
// opaque Raw fallback for forward compatibility. Exactly one typed field
// (or Raw) is expected to be set, matching the job's Type.
type Payload struct {
	Upload     *UploadPayload     `json:"upload,omitempty"`
	Parse      *ParsePayload      `json:"parse,omitempty"`
	Evaluation *EvaluationPayload `json:"evaluation,omitempty"`
	Resume     *ResumePayload     `json:"resume,omitempty"`
	Requeue    *RequeuePayload    `json:"requeue,omitempty"`

	// Raw carries payloads the kernel does not model. Opaque bytes.
	Raw json.RawMessage `json:"raw,omitempty"`

	// ForceFail and ForceTransient are test hooks honoured by
	// executors to exercise failure paths deterministically.
	ForceFail      bool `json:"force_fail,omitempty"`
	ForceTransient bool `json:"force_transient,omitempty"`
}

// UploadPayload describes a document upload to register.
type UploadPayload struct {
	DocumentID string `json:"document_id"`
	ObjectKey  string `json:"object_key"`
	Filename   string `json:"filename,omitempty"`
}

// ParsePayload describes a document parsing pass.
type ParsePayload struct {
	DocumentID string `json:"document_id"`
	ParserName string `json:"parser_name,omitempty"`
}

// EvaluationPayload describes an evaluation run over a parsed document.
type EvaluationPayload struct {
	EvaluationID string   `json:"evaluation_id"`
	DocumentID   string   `json:"document_id"`
	RuleSet      string   `json:"rule_set,omitempty"`
	Sections     []string `json:"sections,omitempty"`
}

// ResumePayload continues a paused workflow from persisted state.
type ResumePayload struct {
	EvaluationID string `json:"evaluation_id"`
	Token        string `json:"token"`
	Decision     string `json:"decision,omitempty"`
}

// RequeuePayload re-runs a dead-lettered job.
type RequeuePayload struct {
	OriginalJobID string `json:"original_job_id"`
	DLQID         string `json:"dlq_id"`
}
