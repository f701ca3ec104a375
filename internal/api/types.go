package api

import (
	"fmt"
	"strings"

	"safety-scheduler/internal/scheduler"
	"safety-scheduler/internal/task"
)

const (
	ErrInvalidJSON      = "invalid_json"
	ErrInvalidTask      = "invalid_task"
	ErrInvalidDueAt     = "invalid_due_at"
	ErrInvalidID        = "invalid_id"
	ErrJobNotFound      = "job_not_found"
	ErrRefNotFound      = "ref_not_found"
	ErrCodec            = "codec_error"
	ErrStoreUnavailable = "store_unavailable"
	ErrStore            = "store_error"

	ErrInvalidIdempotencyKey = "invalid_idempotency_key"

	ErrJobExists       = "job_exists"
	ErrWrongKind       = "wrong_task_kind"
	ErrExtendForbidden = "extend_forbidden"
)

// TaskBody is the JSON form of a task: a kind tag plus the matching body.
type TaskBody struct {
	Kind  string      `json:"kind"`
	Event *task.Event `json:"event,omitempty"`
	Poll  *task.Poll  `json:"poll,omitempty"`
}

func (b TaskBody) Task() (task.Task, error) {
	switch task.Kind(b.Kind) {
	case task.KindEvent:
		if b.Event == nil {
			return nil, fmt.Errorf("event body is required")
		}
		if strings.TrimSpace(b.Event.Topic) == "" {
			return nil, fmt.Errorf("event topic is required")
		}
		if b.Event.Channel == 0 {
			return nil, fmt.Errorf("event channel is required")
		}
		return b.Event, nil
	case task.KindPoll:
		if b.Poll == nil {
			return nil, fmt.Errorf("poll body is required")
		}
		if strings.TrimSpace(b.Poll.Topic) == "" {
			return nil, fmt.Errorf("poll topic is required")
		}
		if b.Poll.Channel == 0 || b.Poll.Message == 0 {
			return nil, fmt.Errorf("poll channel and message are required")
		}
		if len(b.Poll.Options) > task.MaxPollOptions {
			return nil, fmt.Errorf("poll has %d options, at most %d allowed", len(b.Poll.Options), task.MaxPollOptions)
		}
		return b.Poll, nil
	default:
		return nil, fmt.Errorf("unknown task kind %q", b.Kind)
	}
}

func bodyOf(t task.Task) TaskBody {
	switch v := t.(type) {
	case *task.Event:
		return TaskBody{Kind: string(task.KindEvent), Event: v}
	case *task.Poll:
		return TaskBody{Kind: string(task.KindPoll), Poll: v}
	default:
		return TaskBody{}
	}
}

type CreateRequest struct {
	Task  TaskBody `json:"task"`
	DueAt int64    `json:"due_at"`
	// Ref optionally maps an external id, such as the chat message showing
	// the job, back to the job.
	Ref           string `json:"ref,omitempty"`
	RefTTLSeconds int64  `json:"ref_ttl_seconds,omitempty"`
}

type EditRequest struct {
	Task  TaskBody `json:"task"`
	DueAt *int64   `json:"due_at,omitempty"`
}

type JobResponse struct {
	JobID string    `json:"job_id"`
	DueAt int64     `json:"due_at,omitempty"`
	Task  *TaskBody `json:"task,omitempty"`
}

func jobResponse(j scheduler.Job) JobResponse {
	body := bodyOf(j.Task)
	return JobResponse{JobID: j.ID, DueAt: j.DueAt, Task: &body}
}

type DueResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type CountResponse struct {
	Scheduled int64 `json:"scheduled"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// MembersResponse lists an event's sign-ups after a join or leave.
type MembersResponse struct {
	JobID   string   `json:"job_id"`
	Members []uint64 `json:"members"`
	// Mentions renders the author and members for the event message.
	Mentions string `json:"mentions"`
	Changed  bool   `json:"changed"`
}

type ExtendRequest struct {
	User    uint64   `json:"user"`
	Options []string `json:"options"`
}

// ExtendResponse carries the poll's options and the re-rendered body the
// chat message should be edited to.
type ExtendResponse struct {
	JobID   string   `json:"job_id"`
	Options []string `json:"options"`
	Body    string   `json:"body"`
}
