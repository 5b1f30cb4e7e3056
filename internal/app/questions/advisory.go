package questions

import (
	"errors"

	"github.com/liveqa/project/internal/app/events"
)

// Advisory is a dismissible notice describing why an action did not happen.
type Advisory struct {
	Title   string `json:"title"`
	Message string `json:"error"`
}

var signInVerb = map[string]string{
	OpLike:    "like",
	OpPost:    "post questions",
	OpAnswer:  "answer",
	OpDismiss: "dismiss questions",
	OpRecover: "recover questions",
	OpDelete:  "delete questions",
}

var failure = map[string]Advisory{
	OpLike:    {Title: "Like failed", Message: "Could not register your like. Try again."},
	OpPost:    {Title: "Failed", Message: "Could not post question. Try again."},
	OpAnswer:  {Title: "Failed", Message: "Could not submit answer. Try again."},
	OpDismiss: {Title: "Failed", Message: "Could not dismiss question."},
	OpRecover: {Title: "Failed", Message: "Could not recover selected questions."},
	OpDelete:  {Title: "Failed", Message: "Could not delete questions."},
}

// AdvisoryFor maps an error returned by Service to the notice shown to the
// user.
func AdvisoryFor(err error) Advisory {
	op := ""
	var opErr *OpError
	if errors.As(err, &opErr) {
		op = opErr.Op
	}

	switch {
	case errors.Is(err, ErrSignInRequired):
		verb := signInVerb[op]
		if verb == "" {
			verb = "continue"
		}
		return Advisory{Title: "Sign in required", Message: "Please sign in to " + verb + "."}
	case errors.Is(err, ErrNotAllowed), errors.Is(err, events.ErrNotAllowed):
		switch op {
		case OpAnswer:
			return Advisory{Title: "Not allowed", Message: "Only a guest or admin can answer questions."}
		case OpDismiss:
			return Advisory{Title: "Not allowed", Message: "Only a guest or admin can dismiss questions."}
		}
		return Advisory{Title: "Not allowed", Message: "You do not have permission for this action."}
	case errors.Is(err, ErrEventMissing):
		return Advisory{Title: "No event loaded", Message: "This event could not be found."}
	case errors.Is(err, ErrEventNotLive):
		return Advisory{Title: "Event is not live", Message: "Questions open when the event goes live."}
	case errors.Is(err, ErrSubmissionsPaused):
		return Advisory{Title: "Submissions are temporarily paused", Message: "Try again once the host resumes submissions."}
	case errors.Is(err, ErrRateLimited):
		return Advisory{Title: "Rate limit", Message: "You're submitting too fast. Try again in a moment."}
	case errors.Is(err, ErrEmptyText):
		if op == OpAnswer {
			return Advisory{Title: "Empty", Message: "Please type an answer before submitting."}
		}
		return Advisory{Title: "Empty", Message: "Please type a question before posting."}
	case errors.Is(err, ErrNoSelection):
		return Advisory{Title: "No selection", Message: "Select questions first."}
	}
	if a, ok := failure[op]; ok {
		return a
	}
	return Advisory{Title: "Failed", Message: "Something went wrong. Try again."}
}
