package queue

import "time"

type verdictKind int

const (
	verdictComplete verdictKind = iota
	verdictRetry
	verdictFail
)

// Verdict is the handler's explicit decision about a processed job. Retry
// versus terminal failure is a value returned by the worker, not an error
// propagated into hidden queue machinery.
type Verdict struct {
	kind  verdictKind
	delay time.Duration
	err   error
}

// Complete marks the job successfully finished.
func Complete() Verdict { return Verdict{kind: verdictComplete} }

// Retry schedules redelivery after delay, recording err as the attempt's
// failure reason.
func Retry(delay time.Duration, err error) Verdict {
	return Verdict{kind: verdictRetry, delay: delay, err: err}
}

// Fail marks the job terminally failed.
func Fail(err error) Verdict { return Verdict{kind: verdictFail, err: err} }

func (v Verdict) errString() string {
	if v.err == nil {
		return ""
	}
	return v.err.Error()
}
