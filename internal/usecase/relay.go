package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"line-chat-relay/internal/domain"
)

const (
	defaultWindowSize   = 6
	defaultEraseCommand = "EXIT"
	defaultEraseReply   = "INFO: 今までの会話を削除しました。"
	defaultFlaggedReply = "INFO: このメッセージにはお答えできません。"
)

// SessionStore is the per-user message log the relay reads and writes.
type SessionStore interface {
	Append(ctx context.Context, userID, content string, role domain.Role, timestamp int64) error
	ReadWindow(ctx context.Context, userID string, limit int) ([]domain.Message, error)
	EraseAll(ctx context.Context, userID string) error
}

type Completer interface {
	Complete(ctx context.Context, priorTurns []domain.ChatMessage, newUserContent string) (CompletionResult, error)
}

type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

type RelayConfig struct {
	// WindowSize is how many stored turns are sent as context.
	WindowSize int
	// EraseCommand is matched exactly and case-sensitively.
	EraseCommand string
	EraseReply   string
	FlaggedReply string
}

// RelayService handles one inbound message: the erase command, or a
// read-complete-persist round trip.
//
// There is no per-user locking. Two messages from the same user processed
// concurrently interleave by timestamp, and a window read may miss the
// other request's in-flight append.
type RelayService struct {
	store     SessionStore
	completer Completer
	moderator Moderator
	cfg       RelayConfig
	now       func() time.Time
}

type RelayInput struct {
	UserID string
	// Timestamp is the platform event time in milliseconds.
	Timestamp int64
	Content   string
}

type RelayOutput struct {
	Reply   string
	Erased  bool
	Flagged bool
	// PersistErr is set when the reply was produced but not fully stored.
	PersistErr *Error
}

// NewRelayService wires the relay. m may be nil to disable moderation.
func NewRelayService(store SessionStore, c Completer, m Moderator, cfg RelayConfig) (*RelayService, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if c == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaultWindowSize
	}
	if cfg.EraseCommand == "" {
		cfg.EraseCommand = defaultEraseCommand
	}
	if cfg.EraseReply == "" {
		cfg.EraseReply = defaultEraseReply
	}
	if cfg.FlaggedReply == "" {
		cfg.FlaggedReply = defaultFlaggedReply
	}
	return &RelayService{store: store, completer: c, moderator: m, cfg: cfg, now: time.Now}, nil
}

func (s *RelayService) Relay(ctx context.Context, in RelayInput) (RelayOutput, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return RelayOutput{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	log := slog.With("user_id", in.UserID)

	// The erase command is checked first so it is never read into a prompt
	// or written to history.
	if in.Content == s.cfg.EraseCommand {
		if err := s.store.EraseAll(ctx, in.UserID); err != nil {
			return RelayOutput{}, newError(ErrorStoreWrite, "dynamodb_erase_error", err)
		}
		log.Info("conversation history erased")
		return RelayOutput{Reply: s.cfg.EraseReply, Erased: true}, nil
	}

	if strings.TrimSpace(in.Content) == "" {
		return RelayOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}

	if s.moderator != nil {
		flagged, err := s.moderator.Moderate(ctx, in.Content)
		if err != nil {
			return RelayOutput{}, completionError(err)
		}
		if flagged {
			log.Info("message flagged by moderation")
			return RelayOutput{Reply: s.cfg.FlaggedReply, Flagged: true}, nil
		}
	}

	window, err := s.store.ReadWindow(ctx, in.UserID, s.cfg.WindowSize)
	if err != nil {
		return RelayOutput{}, newError(ErrorStoreRead, "dynamodb_read_error", err)
	}

	result, err := s.completer.Complete(ctx, toTurns(window), in.Content)
	if err != nil {
		var ucErr *Error
		if errors.As(err, &ucErr) {
			return RelayOutput{}, ucErr
		}
		return RelayOutput{}, completionError(err)
	}

	out := RelayOutput{Reply: result.ReplyText}
	if persistErr := s.persistExchange(ctx, in, result); persistErr != nil {
		log.Warn("reply produced but history is missing a turn",
			"code", persistErr.Code, "reason", persistErr.Reason, "err", persistErr.Err)
		out.PersistErr = persistErr
	}
	return out, nil
}

// persistExchange stores the user turn then the assistant turn. If the user
// turn fails the assistant turn is skipped so the log never holds an
// unpaired reply.
// An input without a timestamp is stamped with the relay clock here so both
// appends are ordered against the same value.
func (s *RelayService) persistExchange(ctx context.Context, in RelayInput, result CompletionResult) *Error {
	userTS := in.Timestamp
	if userTS == 0 {
		userTS = s.now().UnixMilli()
	}
	if err := s.store.Append(ctx, in.UserID, in.Content, domain.RoleUser, userTS); err != nil {
		return newError(ErrorPartialPersistence, "user_turn_not_saved", err)
	}
	if err := s.store.Append(ctx, in.UserID, result.ReplyText, domain.RoleAssistant, replyTimestamp(userTS, result.CompletedAt)); err != nil {
		return newError(ErrorPartialPersistence, "assistant_turn_not_saved", err)
	}
	return nil
}

// replyTimestamp converts the completion time to milliseconds and keeps it
// strictly after the user turn it answers.
func replyTimestamp(userTS, completedAt int64) int64 {
	ts := completedAt * 1000
	if ts <= userTS {
		ts = userTS + 1
	}
	return ts
}

func toTurns(window []domain.Message) []domain.ChatMessage {
	turns := make([]domain.ChatMessage, 0, len(window))
	for _, m := range window {
		turns = append(turns, domain.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return turns
}
