package notify

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the part of *tgbotapi.BotAPI the sink needs.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink sends messages to subscribers that linked a Telegram chat.
type TelegramSink struct {
	api BotAPI
}

func NewTelegramSink(token string) (*TelegramSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return NewTelegramSinkWithAPI(api), nil
}

func NewTelegramSinkWithAPI(api BotAPI) *TelegramSink {
	return &TelegramSink{api: api}
}

func (s *TelegramSink) Send(ctx context.Context, msg Message) error {
	if msg.ChatID == 0 {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.api.Send(tgbotapi.NewMessage(msg.ChatID, msg.Text))
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return &SendError{Code: tgErr.Code, Message: tgErr.Message, RetryAfter: tgErr.RetryAfter}
	}
	return err
}
