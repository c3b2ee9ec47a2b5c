package agent

import (
	"fmt"
	"time"

	"github.com/ykute07/agentconnect/pkg/message"
)

// Error type tags carried in error-message metadata.
const (
	ErrTypeInitialization = "initialization_error"
	ErrTypeTimeout        = "workflow_timeout"
	ErrTypeEmptyResponse  = "empty_workflow_response"
	ErrTypeProcessing     = "processing_error"
	ErrTypeCooldown       = "cooldown_active"
	ErrTypeCollabFailed   = "collaboration_failed"
	ErrTypeMaxRetries     = "max_retries_exceeded"
)

// handledErrorTags are the inbound error tags the loop translates into an
// explanation for the originating human instead of reasoning about them.
var handledErrorTags = []string{ErrTypeTimeout, ErrTypeMaxRetries, ErrTypeCollabFailed}

// errorResponse builds an outbound error message mirroring the inbound
// sender as receiver.
func (l *Loop) errorResponse(to, errType, detail string) *message.Message {
	msg := &message.Message{
		Sender:   l.id,
		Receiver: to,
		Content:  detail,
		Type:     message.TypeError,
		SentAt:   time.Now(),
	}
	msg.SetMeta(message.MetaErrorType, errType)
	return msg
}

// apologyFor renders the human-facing explanation for a failed delegated
// task.
func apologyFor(errType, peerID string) string {
	switch errType {
	case ErrTypeTimeout:
		return fmt.Sprintf("I'm sorry - the task I delegated to %s timed out before completing. You may want to try again or rephrase the request.", peerID)
	case ErrTypeMaxRetries:
		return fmt.Sprintf("I'm sorry - I couldn't reach %s after several attempts, so that part of your request could not be completed.", peerID)
	case ErrTypeCollabFailed:
		return fmt.Sprintf("I'm sorry - the collaboration with %s failed, so that part of your request could not be completed.", peerID)
	default:
		return fmt.Sprintf("I'm sorry - something went wrong while working with %s on your request.", peerID)
	}
}
