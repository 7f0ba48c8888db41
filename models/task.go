package models

import "encoding/json"

// TaskKind distinguishes the data-task / management-task partitions of the
// task queue (spec §4.3). Data tasks mutate document bodies; management
// tasks mutate shard identity, allocation or engine-wide state.
type TaskKind int

const (
	TaskADD TaskKind = iota
	TaskREMOVE
	TaskSYNC
	TaskOPTIMIZE
	TaskRECONSTRUCT
	TaskRESERVE
	TaskDropShard
)

// String returns the wire name used in logs and the JSON task envelope.
func (k TaskKind) String() string {
	switch k {
	case TaskADD:
		return "ADD"
	case TaskREMOVE:
		return "REMOVE"
	case TaskSYNC:
		return "SYNC"
	case TaskOPTIMIZE:
		return "OPTIMIZE"
	case TaskRECONSTRUCT:
		return "RECONSTRUCT"
	case TaskRESERVE:
		return "RESERVE"
	case TaskDropShard:
		return "DROP_SHARD"
	default:
		return "UNKNOWN"
	}
}

// IsData reports whether this task kind belongs to the data partition
// (ADD, REMOVE) as opposed to the management partition.
func (k TaskKind) IsData() bool {
	return k == TaskADD || k == TaskREMOVE
}

// Task is the decoded form of a row from input_tasks or batch_tasks: the
// kind plus its JSON payload, as read back from storage.
type Task struct {
	ID      string // prefixed id: "d-<n>" for data tasks, "m-<n>" for management
	RowID   int64  // the unprefixed, underlying rowid
	Kind    TaskKind
	Payload json.RawMessage
}

// AddPayload is the payload of an ADD task.
type AddPayload struct {
	DocID     string            `json:"docId"`
	Timestamp int64             `json:"timestamp"`
	BodyText  string            `json:"bodyText"`
	Locale    string            `json:"locale,omitempty"`
	Attrs     *string           `json:"attrs,omitempty"`
}

// RemovePayload is the payload of a REMOVE task.
type RemovePayload struct {
	DocID     string `json:"docId"`
	Timestamp int64  `json:"timestamp"`
}

// OptimizePayload is the payload of an OPTIMIZE task.
type OptimizePayload struct {
	TargetTimestamp int64 `json:"targetTimestamp"`
}

// ReconstructPayload is the payload of a RECONSTRUCT task.
type ReconstructPayload struct {
	TargetTimestamp int64 `json:"targetTimestamp"`
	NewInitialID    int64 `json:"newInitialId,omitempty"`
	UseExternalID   bool  `json:"useExternalId,omitempty"`
}

// ReserveDocument is one entry of a RESERVE task's documents list.
type ReserveDocument struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// ReservePayload is the payload of a RESERVE task. Either Documents is
// populated directly, or TargetTimestamp+IDs describe a single-bucket
// reservation (the second, flatter wire shape named in spec §6).
type ReservePayload struct {
	Documents       []ReserveDocument `json:"documents,omitempty"`
	TargetTimestamp int64             `json:"targetTimestamp,omitempty"`
	IDs             []string          `json:"ids,omitempty"`
}

// Normalize expands the TargetTimestamp+IDs shorthand into Documents.
func (p *ReservePayload) Normalize() []ReserveDocument {
	if len(p.Documents) > 0 {
		return p.Documents
	}
	docs := make([]ReserveDocument, 0, len(p.IDs))
	for _, id := range p.IDs {
		docs = append(docs, ReserveDocument{ID: id, Timestamp: p.TargetTimestamp})
	}
	return docs
}

// DropShardPayload is the payload of a DROP_SHARD task.
type DropShardPayload struct {
	TargetTimestamp int64 `json:"targetTimestamp"`
}

// Document is a search result / fetch result as returned to callers.
type Document struct {
	ID       string  `json:"id"`
	BodyText string  `json:"bodyText,omitempty"`
	Attrs    *string `json:"attrs,omitempty"`
}

// ShardFile describes one on-disk shard discovered by the file manager.
type ShardFile struct {
	BucketTimestamp int64
	Path            string
	Healthy         bool
}

// ShardStats reports on-disk and FTS payload statistics for one shard, as
// surfaced by GET /shards?detailed=true.
type ShardStats struct {
	BucketTimestamp int64  `json:"bucketTimestamp"`
	Healthy         bool   `json:"healthy"`
	FileSizeBytes   int64  `json:"fileSizeBytes"`
	WALSizeBytes    int64  `json:"walSizeBytes,omitempty"`
	PageSize        int64  `json:"pageSize,omitempty"`
	PageCount       int64  `json:"pageCount,omitempty"`
	DocumentCount   int64  `json:"documentCount,omitempty"`
	DocsDataBytes   int64  `json:"docsDataBytes,omitempty"`
	DocsDocsizeBytes int64 `json:"docsDocsizeBytes,omitempty"`
	DocsContentBytes int64 `json:"docsContentBytes,omitempty"`
	DocsConfigBytes  int64 `json:"docsConfigBytes,omitempty"`
	IsHot           bool   `json:"isHot,omitempty"`
}
