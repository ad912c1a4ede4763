package transfer

import (
	"github.com/google/uuid"
)

// Choice is the delivery preference picked by the user.
type Choice int

const (
	ChoiceAuto Choice = iota
	ChoiceDirect
	ChoiceProvider
)

func (c Choice) String() string {
	switch c {
	case ChoiceDirect:
		return "direct"
	case ChoiceProvider:
		return "provider"
	default:
		return "auto"
	}
}

// ParseChoice maps callback data back to a Choice. Unknown values are auto.
func ParseChoice(s string) Choice {
	switch s {
	case "direct":
		return ChoiceDirect
	case "provider", "gofile":
		return ChoiceProvider
	default:
		return ChoiceAuto
	}
}

// Stage names the last pipeline step a job reached.
type Stage string

const (
	StageProbe    Stage = "probe"
	StageDownload Stage = "download"
	StageRoute    Stage = "route"
	StageDeliver  Stage = "deliver"
	StageUpload   Stage = "upload"
	StageDone     Stage = "done"
)

// Outcome is the terminal state of a job.
type Outcome int

const (
	DeliveredInline Outcome = iota
	DeliveredViaProvider
	Failed
)

func (o Outcome) String() string {
	switch o {
	case DeliveredInline:
		return "inline"
	case DeliveredViaProvider:
		return "provider"
	default:
		return "failed"
	}
}

// Request is one user-initiated transfer. It is consumed exactly once.
type Request struct {
	ID        uuid.UUID
	SourceURL string
	Filename  string
	ChatID    int64
	UserID    int64
	Choice    Choice
}

// NewRequest stamps a fresh job id on the request.
func NewRequest(sourceURL, filename string, chatID, userID int64, choice Choice) Request {
	return Request{
		ID:        uuid.New(),
		SourceURL: sourceURL,
		Filename:  filename,
		ChatID:    chatID,
		UserID:    userID,
		Choice:    choice,
	}
}

// Result is produced once per Request. Use Inline, ViaProvider or Failure to
// build one so the fields always agree with the outcome.
type Result struct {
	Outcome   Outcome
	SizeBytes int64
	Provider  string
	Link      string
	Stage     Stage
	Err       error
}

func Inline(size int64) Result {
	return Result{Outcome: DeliveredInline, SizeBytes: size, Stage: StageDone}
}

func ViaProvider(provider, link string, size int64) Result {
	return Result{Outcome: DeliveredViaProvider, SizeBytes: size, Provider: provider, Link: link, Stage: StageDone}
}

func Failure(stage Stage, size int64, err error) Result {
	return Result{Outcome: Failed, SizeBytes: size, Stage: stage, Err: err}
}

// Succeeded reports whether the file reached the user.
func (r Result) Succeeded() bool {
	return r.Outcome != Failed
}

// UnknownSize marks a length the source did not declare.
const UnknownSize int64 = -1

// DownloadState describes a file written to the job workspace.
type DownloadState struct {
	LocalPath          string
	BytesWritten       int64
	TotalBytesExpected int64
}
