package ai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/arisuchan/chatroom/pkg/metrics"
	"github.com/arisuchan/chatroom/pkg/model"
	"github.com/arisuchan/chatroom/pkg/store"
)

// Sender is the subset of the Group Engine the Participant needs to
// post its reply, kept narrow so this package doesn't depend on
// pkg/group.
type Sender interface {
	Send(senderID, groupID int64, content string) (*model.Message, error)
}

// Participant decides whether an incoming message warrants a reply and
// runs replies on a bounded worker pool, dropping jobs rather than
// blocking the chat path when the pool is saturated.
type Participant struct {
	client        Client
	store         *store.Store
	sender        Sender
	systemPrompt  string
	keywords      []string
	historyWindow int
	jobs          chan job
	logger        *slog.Logger
}

type job struct {
	groupID    int64
	isPrivate  bool
	triggerMsg model.Message
}

type Options struct {
	SystemPrompt    string
	TriggerKeywords []string
	HistoryWindow   int
	WorkerPoolSize  int
	QueueDepth      int
}

func NewParticipant(client Client, st *store.Store, sender Sender, opts Options, logger *slog.Logger) *Participant {
	if opts.WorkerPoolSize <= 0 {
		opts.WorkerPoolSize = 4
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 64
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}

	p := &Participant{
		client:        client,
		store:         st,
		sender:        sender,
		systemPrompt:  opts.SystemPrompt,
		keywords:      opts.TriggerKeywords,
		historyWindow: opts.HistoryWindow,
		jobs:          make(chan job, opts.QueueDepth),
		logger:        logger,
	}

	for i := 0; i < opts.WorkerPoolSize; i++ {
		go p.worker()
	}

	return p
}

// OnMessage is called by the chat-message handler after a message is
// successfully persisted and broadcast. It must never block the
// caller: it decides, then enqueues or returns immediately.
func (p *Participant) OnMessage(msg model.Message, groupIsPrivate, aiIsMember bool) {
	if msg.SenderID == model.AIUserID {
		return
	}
	if !p.shouldRespond(msg.Content, groupIsPrivate, aiIsMember) {
		return
	}

	select {
	case p.jobs <- job{groupID: msg.GroupID, isPrivate: groupIsPrivate, triggerMsg: msg}:
		metrics.AIQueueDepth.Set(float64(len(p.jobs)))
	default:
		p.logger.Warn("AI job queue saturated, dropping", "group_id", msg.GroupID)
		metrics.AICallsTotal.WithLabelValues("dropped").Inc()
	}
}

// shouldRespond checks, in order: private chat membership, an @ai
// mention, then a configured trigger keyword.
func (p *Participant) shouldRespond(content string, groupIsPrivate, aiIsMember bool) bool {
	if groupIsPrivate && aiIsMember {
		return true
	}
	lower := strings.ToLower(content)
	if strings.Contains(lower, "@ai") {
		return true
	}
	for _, kw := range p.keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (p *Participant) worker() {
	for j := range p.jobs {
		metrics.AIQueueDepth.Set(float64(len(p.jobs)))
		p.handle(j)
	}
}

func (p *Participant) handle(j job) {
	ctx := context.Background()

	history, err := p.store.GetAIContext(j.groupID)
	if err != nil {
		p.logger.Warn("AI context fetch failed, falling back to store history", "error", err, "group_id", j.groupID)
	}
	if len(history) > p.historyWindow {
		history = history[len(history)-p.historyWindow:]
	}
	if len(history) == 0 {
		history, err = p.store.History(j.groupID, p.historyWindow)
		if err != nil {
			p.logger.Error("AI: load history failed", "error", err, "group_id", j.groupID)
			metrics.AICallsTotal.WithLabelValues("error").Inc()
			return
		}
	}

	messages := make([]Message, 0, len(history)+2)
	if p.systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: p.systemPrompt})
	}
	for _, m := range history {
		role := "user"
		if m.SenderID == model.AIUserID {
			role = "assistant"
		}
		messages = append(messages, Message{Role: role, Content: m.Content})
	}

	reply, err := p.client.Chat(ctx, messages)
	if err != nil {
		p.logger.Error("AI backend call failed", "error", err, "group_id", j.groupID)
		metrics.AICallsTotal.WithLabelValues("error").Inc()
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		metrics.AICallsTotal.WithLabelValues("empty").Inc()
		return
	}

	if _, err := p.sender.Send(model.AIUserID, j.groupID, reply); err != nil {
		p.logger.Error("AI reply send failed", "error", err, "group_id", j.groupID)
		metrics.AICallsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.AICallsTotal.WithLabelValues("ok").Inc()
}
