// Package outbox turns a compose action into an optimistic local message and
// submits it to the server in the background.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/bus"
	"github.com/matheus3301/threadline/internal/cache"
	"github.com/matheus3301/threadline/internal/model"
)

// Bus event kinds published by the sender.
const (
	EventSendAck    = "outbox.send_ack"
	EventSendFailed = "outbox.send_failed"
)

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrNotRetryable   = errors.New("message is not in a failed state")
	ErrNoSession      = errors.New("no session selected")
	ErrStopped        = errors.New("sender stopped")
)

// Submitter delivers one message to the server.
type Submitter interface {
	SendMessage(ctx context.Context, sessionID, correlationID string, content model.Content) (model.Message, error)
}

// Journal records send attempts so unsent messages survive a restart.
// A nil Journal is allowed.
type Journal interface {
	QueueOutbox(correlationID, sessionID string, content model.Content) error
	MarkOutboxSending(correlationID string) error
	MarkOutboxSent(correlationID, serverMsgID string) error
	MarkOutboxFailed(correlationID, errMsg string) error
	DeleteOutbox(correlationID string) error
}

// SendResult is the payload of EventSendAck and EventSendFailed.
type SendResult struct {
	CorrelationID string
	MessageID     string
	SessionID     string
	Err           error
}

// Config tunes the sender.
type Config struct {
	// SelfID is stamped as the sender of local stubs.
	SelfID string
	// Timeout bounds one submission.
	Timeout time.Duration
}

// Sender creates PENDING stubs and resolves them to SENT or FAILED.
type Sender struct {
	submitter Submitter
	journal   Journal
	cache     *cache.Cache
	bus       *bus.Bus
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSender creates a new outbox sender.
func NewSender(s Submitter, j Journal, c *cache.Cache, b *bus.Bus, cfg Config, logger *zap.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sender{
		submitter: s,
		journal:   j,
		cache:     c,
		bus:       b,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Send validates content, inserts a PENDING stub into the cache and submits
// it in the background. The stub is returned immediately.
func (s *Sender) Send(sessionID string, content model.Content) (model.Message, error) {
	if sessionID == "" {
		return model.Message{}, ErrNoSession
	}
	if content == nil {
		return model.Message{}, fmt.Errorf("empty message")
	}
	if err := content.Validate(); err != nil {
		return model.Message{}, err
	}
	if s.ctx.Err() != nil {
		return model.Message{}, ErrStopped
	}

	now := s.now().UTC()
	stub := model.Message{
		CorrelationID: s.newID(),
		SessionID:     sessionID,
		SenderID:      s.cfg.SelfID,
		Content:       content,
		CreatedAt:     now,
		UpdatedAt:     now,
		State:         model.Pending,
	}
	// Optimistic insert: the thread shows the message before the server answers.
	if _, err := s.cache.UpsertMessage(stub); err != nil {
		return model.Message{}, err
	}
	if s.journal != nil {
		if err := s.journal.QueueOutbox(stub.CorrelationID, sessionID, content); err != nil {
			s.logger.Warn("failed to journal outgoing message", zap.Error(err), zap.String("correlation_id", stub.CorrelationID))
		}
	}
	s.dispatch(stub)
	return stub, nil
}

// Retry resubmits a FAILED stub, keeping its original creation time so it
// stays where it was in the thread. Of concurrent retries of one stub only
// the first submits.
func (s *Sender) Retry(correlationID string) (model.Message, error) {
	if s.ctx.Err() != nil {
		return model.Message{}, ErrStopped
	}
	change, err := s.cache.TransitionStub(correlationID, model.Failed, model.Pending, "")
	switch {
	case errors.Is(err, cache.ErrNoMessage):
		return model.Message{}, ErrUnknownMessage
	case errors.Is(err, cache.ErrWrongState):
		return model.Message{}, ErrNotRetryable
	case err != nil:
		return model.Message{}, err
	}
	m := change.Message
	if s.journal != nil {
		if err := s.journal.QueueOutbox(m.CorrelationID, m.SessionID, m.Content); err != nil {
			s.logger.Warn("failed to journal retry", zap.Error(err), zap.String("correlation_id", m.CorrelationID))
		}
	}
	s.logger.Info("retrying message", zap.String("correlation_id", m.CorrelationID))
	s.dispatch(change.Message)
	return change.Message, nil
}

// Discard drops a FAILED stub the user gave up on.
func (s *Sender) Discard(correlationID string) error {
	m, ok := s.cache.Message(correlationID)
	if !ok {
		return ErrUnknownMessage
	}
	if !m.IsStub() || m.State != model.Failed {
		return ErrNotRetryable
	}
	s.cache.RemoveMessage(m.CorrelationID)
	if s.journal != nil {
		if err := s.journal.DeleteOutbox(m.CorrelationID); err != nil {
			s.logger.Warn("failed to drop journaled message", zap.Error(err), zap.String("correlation_id", m.CorrelationID))
		}
	}
	return nil
}

// Wait blocks until every in-flight submission has resolved.
func (s *Sender) Wait() {
	s.wg.Wait()
}

// Stop cancels in-flight submissions and waits for them. Their stubs end up
// FAILED and can be retried after a restart.
func (s *Sender) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Sender) dispatch(stub model.Message) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.submit(stub)
	}()
}

func (s *Sender) submit(stub model.Message) {
	corr := stub.CorrelationID
	if s.journal != nil {
		if err := s.journal.MarkOutboxSending(corr); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("correlation_id", corr))
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
	ack, err := s.submitter.SendMessage(ctx, stub.SessionID, corr, stub.Content)
	cancel()

	if err != nil {
		// The push echo may have confirmed the message while the request
		// itself failed. The confirmed record wins.
		if cur, ok := s.cache.Message(corr); ok && !cur.IsStub() {
			s.succeeded(stub, cur)
			return
		}
		s.failed(stub, err)
		return
	}

	if _, ok := s.cache.Message(corr); !ok {
		// Discarded or logged out while in flight.
		s.logger.Info("dropping ack for evicted message", zap.String("correlation_id", corr), zap.String("message_id", ack.ID))
		return
	}
	if ack.CorrelationID == "" {
		ack.CorrelationID = corr
	}
	change, uerr := s.cache.UpsertMessage(ack)
	if uerr != nil {
		s.logger.Error("failed to apply send ack", zap.Error(uerr), zap.String("correlation_id", corr))
		s.failed(stub, uerr)
		return
	}
	s.succeeded(stub, change.Message)
}

func (s *Sender) succeeded(stub, confirmed model.Message) {
	if s.journal != nil {
		if err := s.journal.MarkOutboxSent(stub.CorrelationID, confirmed.ID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("correlation_id", stub.CorrelationID))
		}
	}
	s.logger.Info("message sent", zap.String("correlation_id", stub.CorrelationID), zap.String("message_id", confirmed.ID))
	s.bus.Emit(EventSendAck, SendResult{CorrelationID: stub.CorrelationID, MessageID: confirmed.ID, SessionID: stub.SessionID})
}

func (s *Sender) failed(stub model.Message, err error) {
	s.logger.Error("failed to send message", zap.Error(err), zap.String("correlation_id", stub.CorrelationID))
	if _, terr := s.cache.TransitionStub(stub.CorrelationID, model.Pending, model.Failed, err.Error()); terr != nil {
		// Evicted or already confirmed; there is no stub left to fail.
		s.logger.Info("not marking message failed", zap.Error(terr), zap.String("correlation_id", stub.CorrelationID))
		return
	}
	if s.journal != nil {
		if jerr := s.journal.MarkOutboxFailed(stub.CorrelationID, err.Error()); jerr != nil {
			s.logger.Error("failed to mark outbox failed", zap.Error(jerr), zap.String("correlation_id", stub.CorrelationID))
		}
	}
	s.bus.Emit(EventSendFailed, SendResult{CorrelationID: stub.CorrelationID, SessionID: stub.SessionID, Err: err})
}
