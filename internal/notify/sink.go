package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrNoRecipient means a sink has no address for the message.
var ErrNoRecipient = errors.New("notify: no recipient for message")

// Sink delivers one rendered message.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// SendError is a delivery failure with a transport status code.
type SendError struct {
	Code       int
	Message    string
	RetryAfter int // seconds, for 429
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send error %d: %s", e.Code, e.Message)
}

// AsSendError unwraps err into a *SendError.
func AsSendError(err error) (*SendError, bool) {
	var se *SendError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// LogSink writes messages to the log. It is used for guests without a chat
// and whenever no chat transport is configured.
type LogSink struct {
	logger *zerolog.Logger
}

func NewLogSink(logger *zerolog.Logger) *LogSink {
	l := logger.With().Str("sink", "log").Logger()
	return &LogSink{logger: &l}
}

func (s *LogSink) Send(_ context.Context, msg Message) error {
	s.logger.Info().
		Str("kind", string(msg.Kind)).
		Str("code", msg.Code).
		Str("recipient", msg.Recipient).
		Msg(msg.Text)
	return nil
}
