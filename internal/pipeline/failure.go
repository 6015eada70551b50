package pipeline

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Stage names the pipeline step a failure happened in. It is stored on review entries.
type Stage string

// Pipeline stages.
const (
	StageListing  Stage = "listing"
	StageIdentify Stage = "identify"
	StageResolve  Stage = "resolve"
	StageDownload Stage = "download"
	StageText     Stage = "text"
	StageExtract  Stage = "extract"
	StagePersist  Stage = "persist"
	StageUnknown  Stage = "unknown"
)

// Failure is the error every stage returns. settle turns it into a review entry.
type Failure struct {
	Stage  Stage
	Reason string
	Err    error
	Stack  []byte
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Stage, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Stage, f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(stage Stage, reason string, err error) *Failure {
	var stack []byte
	if err != nil {
		stack = goerrors.Wrap(err, 1).Stack()
	} else {
		stack = goerrors.New(reason).Stack()
	}
	return &Failure{Stage: stage, Reason: reason, Err: err, Stack: stack}
}
