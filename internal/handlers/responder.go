package handlers

import (
	"context"

	"github.com/flowency-live/opsstack-builder-sub001/internal/session"
)

// EchoResponder is the stand-in conversation collaborator used until the
// real conversation service is wired in. It acknowledges the user
// message and never produces a specification delta.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, _ *session.Session, userMessage string) (Reply, error) {
	return Reply{
		AssistantMessage: "Noted: " + userMessage,
	}, nil
}
