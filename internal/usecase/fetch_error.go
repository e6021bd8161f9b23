package usecase

import (
	"net/http"
	"strconv"

	crerr "github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
)

// FetchAttempt records why one candidate endpoint did not produce a payload.
type FetchAttempt struct {
	URL    string
	Status int
	Reason string
}

// FetchError is returned when every candidate endpoint of a match failed.
type FetchError struct {
	MatchID  string
	Attempts []FetchAttempt
}

func (e *FetchError) Error() string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if len(e.Attempts) == 0 {
		_, _ = buf.WriteString("no candidate endpoints for match ")
		_, _ = buf.WriteString(e.MatchID)
		return buf.String()
	}

	_, _ = buf.WriteString("all ")
	_, _ = buf.WriteString(strconv.Itoa(len(e.Attempts)))
	_, _ = buf.WriteString(" candidate endpoints failed for match ")
	_, _ = buf.WriteString(e.MatchID)
	for i, a := range e.Attempts {
		_, _ = buf.WriteString("\n[")
		_, _ = buf.WriteString(strconv.Itoa(i + 1))
		_, _ = buf.WriteString("] ")
		_, _ = buf.WriteString(a.URL)
		_, _ = buf.WriteString(": ")
		_, _ = buf.WriteString(a.Reason)
	}
	return buf.String()
}

// Unavailable reports whether every attempt got an answer meaning the match
// detail is gone. One transient failure keeps the match retryable.
func (e *FetchError) Unavailable() bool {
	if len(e.Attempts) == 0 {
		return false
	}
	for _, a := range e.Attempts {
		switch a.Status {
		case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		default:
			return false
		}
	}
	return true
}

// classifyFetchError marks unavailable-class failures with ErrMatchUnavailable.
func classifyFetchError(err error) error {
	var fe *FetchError
	if crerr.As(err, &fe) && fe.Unavailable() {
		return crerr.Mark(err, ErrMatchUnavailable)
	}
	return err
}
