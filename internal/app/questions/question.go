package questions

import (
	"fmt"
	"strings"

	"github.com/liveqa/project/internal/docstore"
)

type State string

const (
	StateAsked    State = "asked"
	StateAnswered State = "answered"
	StatePrivate  State = "private"
)

// Tab selects which questions a view shows. Each tab matches one state.
type Tab = State

func ParseTab(raw string) (Tab, error) {
	switch tab := State(strings.ToLower(strings.TrimSpace(raw))); tab {
	case "":
		return StateAsked, nil
	case StateAsked, StateAnswered, StatePrivate:
		return tab, nil
	}
	return "", fmt.Errorf("unknown tab %q", raw)
}

// Question is the decoded form of a question document. Absent fields take
// their zero value: no likes, no state (which files under asked) and a
// zero creation time.
type Question struct {
	ID         string              `json:"id"`
	Text       string              `json:"text"`
	AuthorID   string              `json:"authorId"`
	CreatedAt  docstore.Timestamp  `json:"createdAt"`
	Likes      int64               `json:"likes"`
	State      State               `json:"state,omitempty"`
	AnswerText string              `json:"answerText,omitempty"`
	AnsweredBy string              `json:"answeredBy,omitempty"`
	AnsweredAt *docstore.Timestamp `json:"answeredAt,omitempty"`

	// Selected marks the question for a batch admin action. It lives only
	// in the owning view and is never written to the store.
	Selected bool `json:"selected,omitempty"`
}

// EffectiveState is State with absent defaulting to asked.
func (q Question) EffectiveState() State {
	if q.State == "" {
		return StateAsked
	}
	return q.State
}

func FromDocument(doc docstore.Document) Question {
	f := doc.Fields
	q := Question{ID: doc.ID()}
	q.Text, _ = docstore.String(f, "text")
	q.AuthorID, _ = docstore.String(f, "authorId")
	q.CreatedAt, _ = docstore.TimestampField(f, "createdAt")
	q.Likes, _ = docstore.Int64(f, "likes")
	if state, ok := docstore.String(f, "state"); ok {
		q.State = State(state)
	}
	q.AnswerText, _ = docstore.String(f, "answerText")
	q.AnsweredBy, _ = docstore.String(f, "answeredBy")
	if at, ok := docstore.TimestampField(f, "answeredAt"); ok {
		q.AnsweredAt = &at
	}
	return q
}

func questionsPath(eventID string) string {
	return docstore.Collection("events", eventID, "questions")
}

func questionRef(eventID, questionID string) docstore.Ref {
	return docstore.Doc(questionsPath(eventID), questionID)
}

func likeRef(eventID, questionID, userID string) docstore.Ref {
	return docstore.Doc(questionRef(eventID, questionID).Sub("likes"), userID)
}
