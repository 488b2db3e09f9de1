package analysis

import (
	"errors"
	"fmt"
)

// ErrEmptyTranscript is returned when the transcriber heard nothing worth
// analysing. The segment is dropped without touching the context.
var ErrEmptyTranscript = errors.New("analysis: empty transcript")

// ErrEmptyReply is the cause of an [ExternalCallError] when the reasoning
// service answered with no content.
var ErrEmptyReply = errors.New("analysis: empty reply")

// ErrNoJSONBlock is the cause of a [ParseError] when the reply contains no
// fenced json block.
var ErrNoJSONBlock = errors.New("no fenced json block")

// Stage names an external call made during analysis.
type Stage string

const (
	StageClassify   Stage = "classify"
	StageTranscribe Stage = "transcribe"
	StageReason     Stage = "reason"
)

// ExternalCallError reports a failed or timed out collaborator call. The
// unit of work it belongs to is skipped.
type ExternalCallError struct {
	Stage Stage
	Err   error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("analysis: %s: %v", e.Stage, e.Err)
}

func (e *ExternalCallError) Unwrap() error { return e.Err }

// ParseError reports a reasoning reply that could not be turned into a
// [Result].
type ParseError struct {
	// Reply is the raw text that failed to parse.
	Reply string
	Err   error
}

func (e *ParseError) Error() string {
	return "analysis: parse reply: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }
