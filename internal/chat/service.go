package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tfreechat/tfreechat-go/internal/ai"
	"github.com/tfreechat/tfreechat-go/internal/blob"
	"github.com/tfreechat/tfreechat-go/internal/db"
	"github.com/tfreechat/tfreechat-go/internal/models"
)

// HistorySkew is added to an anchor's timestamp when reconstructing the
// history a fork is based on. It tolerates clock and read lag without
// letting later messages leak into the forked branch.
const HistorySkew = 2 * time.Second

// Fixed user-facing error strings. Raw provider errors are logged but
// never sent to clients.
const (
	SafeErrStreaming = "Error streaming response"
	SafeErrImage     = "Error generating image"
)

var (
	// ErrForbidden indicates the caller does not own the chat.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidRequest indicates a request rejected before any mutation.
	ErrInvalidRequest = errors.New("invalid request")
)

// Store is the persistence surface the engine writes through.
type Store interface {
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	ListChats(ctx context.Context, user string) ([]models.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	SetChatPublic(ctx context.Context, chatID string, public bool) error

	GetMessage(ctx context.Context, chatID, messageID string) (*models.Message, error)
	AppendMessage(ctx context.Context, b db.AppendBatch) (*models.Message, error)
	AttachReply(ctx context.Context, chatID, messageID string, reply models.Reply) (bool, error)
	FailReply(ctx context.Context, chatID, messageID, userError string) error
	FinalizeImage(ctx context.Context, chatID, messageID, imageURL string) error

	ListThread(ctx context.Context, chatID string, chain []string, cutoff time.Time) ([]models.Message, error)
	ListByPath(ctx context.Context, chatID, branchKey string, cutoff *time.Time) ([]models.Message, error)
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
}

// TextStreamer runs one streaming text generation.
type TextStreamer interface {
	StreamText(ctx context.Context, provider, model string, history []ai.Exchange, onDelta func(ai.Delta) error) (*ai.Result, error)
}

// ImageRenderer produces one image for a prompt.
type ImageRenderer interface {
	Generate(ctx context.Context, modelID, prompt string) ([]byte, string, error)
}

// Service coordinates the send protocol: history reconstruction, the
// atomic append batch, generation streaming and reply finalization.
type Service struct {
	store  Store
	agent  TextStreamer
	images ImageRenderer
	blobs  blob.Store
	bus    *Bus
	logger *slog.Logger
}

// NewService wires the engine together. images and blobs may be nil when
// image generation is disabled.
func NewService(store Store, agent TextStreamer, images ImageRenderer, blobs blob.Store, bus *Bus, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		agent:  agent,
		images: images,
		blobs:  blobs,
		bus:    bus,
		logger: log,
	}
}

// PreviousRef anchors a send to an existing message.
type PreviousRef struct {
	ID string
	// NewBranch forks a new branch at ID instead of continuing past it.
	NewBranch bool
}

// SendRequest is one sendMessage call, already authenticated.
type SendRequest struct {
	User     string
	ChatID   string // empty creates a new chat
	Prompt   string
	Provider string
	Model    string

	WebSearch bool
	Public    bool // only read when creating a chat

	Previous *PreviousRef // nil continues at the chat's default tip
}

func (r *SendRequest) validate() error {
	if r.User == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidRequest)
	}
	if r.Prompt == "" {
		return fmt.Errorf("%w: missing prompt", ErrInvalidRequest)
	}
	if r.ChatID == "" && r.Previous != nil {
		return fmt.Errorf("%w: previous message without chat", ErrInvalidRequest)
	}
	return nil
}

// prepared carries the resolved append batch plus the history context that
// feeds the model.
type prepared struct {
	batch   db.AppendBatch
	history []models.Message
}

// prepare resolves the anchor, reconstructs history as of the anchor's
// timestamp and builds the append batch. No writes happen here.
func (s *Service) prepare(ctx context.Context, req *SendRequest, spec models.AISpec) (*prepared, error) {
	msgID := models.NewID()

	if req.ChatID == "" {
		chatID := models.NewID()
		return &prepared{
			batch: db.AppendBatch{
				ChatID:     chatID,
				MessageID:  msgID,
				Prompt:     req.Prompt,
				AI:         spec,
				Path:       []string{msgID},
				CreateChat: true,
				User:       req.User,
				Public:     req.Public,
			},
		}, nil
	}

	chat, err := s.store.GetChat(ctx, req.ChatID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, db.ErrChatUnavailable
		}
		return nil, err
	}
	if chat.User != req.User {
		return nil, ErrForbidden
	}

	anchorID := ""
	newBranch := false
	if req.Previous != nil {
		anchorID = req.Previous.ID
		newBranch = req.Previous.NewBranch
	} else if chat.LastMessageID != nil {
		anchorID = *chat.LastMessageID
	}
	if anchorID == "" {
		return nil, fmt.Errorf("%w: chat has no messages to continue from", ErrInvalidRequest)
	}

	anchor, err := s.store.GetMessage(ctx, req.ChatID, anchorID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown previous message", ErrInvalidRequest)
		}
		return nil, err
	}

	chain, err := Chain(anchor)
	if err != nil {
		return nil, err
	}
	cutoff := anchor.CreatedAt.Add(HistorySkew)
	history, err := s.store.ListThread(ctx, req.ChatID, chain, cutoff)
	if err != nil {
		return nil, err
	}

	path := make([]string, 0, len(chain)+1)
	path = append(path, chain...)
	path = append(path, msgID)

	b := db.AppendBatch{
		ChatID:    req.ChatID,
		MessageID: msgID,
		Prompt:    req.Prompt,
		AI:        spec,
		Path:      path,
	}
	if newBranch {
		b.NewBranch = true
		b.AnchorID = anchorID
		b.Ancestors = chain[:len(chain)-1]
		b.Preview = models.Preview(req.Prompt)
	}
	return &prepared{batch: b, history: history}, nil
}

// emit publishes an event on the bus and forwards it to the request's own
// event sink when one is attached.
func (s *Service) publish(ev StreamEvent) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// forwarder wraps the caller's event sink. Every event reaches the bus;
// once a write to the caller fails the sink is dropped and the send runs
// to completion for bus subscribers and the store alone. A disconnected
// client must never leave a message pending forever.
func (s *Service) forwarder(onEvent func(StreamEvent) error) func(StreamEvent) {
	gone := false
	return func(ev StreamEvent) {
		s.publish(ev)
		if onEvent == nil || gone {
			return
		}
		if err := onEvent(ev); err != nil {
			gone = true
			s.logger.Warn("client stream write failed, continuing generation",
				"chat_id", ev.ChatID, "message_id", ev.MessageID, "error", err)
		}
	}
}

// appendAttempts bounds the retry loop around the append batch. Two
// concurrent forks at the same anchor conflict on the chat document under
// optimistic transactions; the loser replays its batch and both land.
const appendAttempts = 5

func (s *Service) appendMessage(ctx context.Context, b db.AppendBatch) (*models.Message, error) {
	var msg *models.Message
	var err error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		msg, err = s.store.AppendMessage(ctx, b)
		if !errors.Is(err, db.ErrTransactionConflict) {
			return msg, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return msg, err
}

func exchanges(history []models.Message, prompt string) []ai.Exchange {
	out := make([]ai.Exchange, 0, len(history)+1)
	for _, m := range history {
		ex := ai.Exchange{Prompt: m.Prompt}
		if m.Reply != nil {
			ex.Reply = m.Reply.Text
		}
		out = append(out, ex)
	}
	return append(out, ai.Exchange{Prompt: prompt})
}

// SendText runs one text generation send. onEvent receives the identity
// event, every delta and the final done marker in order; a stream that
// never sees done failed and the persisted reply carries the error. The
// returned message is the appended skeleton.
func (s *Service) SendText(ctx context.Context, req *SendRequest, onEvent func(StreamEvent) error) (*models.Message, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	caps := []ai.Capability{}
	if req.WebSearch {
		caps = append(caps, ai.CapabilityWebSearch)
	}
	model, err := ai.Validate(req.Provider, req.Model, caps...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	prep, err := s.prepare(ctx, req, models.AISpec{Model: req.Model, Provider: req.Provider})
	if err != nil {
		return nil, err
	}

	msg, err := s.appendMessage(ctx, prep.batch)
	if err != nil {
		return nil, err
	}
	chatID := prep.batch.ChatID
	msgID := prep.batch.MessageID

	forward := s.forwarder(onEvent)
	forward(StreamEvent{
		Type:      EventHead,
		ChatID:    chatID,
		MessageID: msgID,
		Path:      msg.Path,
	})

	result, genErr := s.agent.StreamText(ctx, req.Provider, req.Model, exchanges(prep.history, req.Prompt), func(d ai.Delta) error {
		ev := StreamEvent{ChatID: chatID, MessageID: msgID}
		switch {
		case d.Reasoning != "":
			ev.Type = EventReasoning
			ev.Reasoning = d.Reasoning
		case d.Text != "":
			ev.Type = EventText
			ev.Text = d.Text
		default:
			return nil
		}
		forward(ev)
		return nil
	})
	if genErr != nil {
		s.logger.Error("text generation failed",
			"chat_id", chatID, "message_id", msgID, "error", genErr)
		if err := s.store.FailReply(ctx, chatID, msgID, SafeErrStreaming); err != nil {
			s.logger.Error("persist error marker", "message_id", msgID, "error", err)
		}
		s.publishReply(ctx, chatID, msgID)
		return msg, fmt.Errorf("generation failed: %w", genErr)
	}

	reply := models.Reply{
		ID:        msgID,
		CreatedAt: time.Now().UTC(),
		Text:      result.Text,
	}
	if req.WebSearch && model.Can(ai.CapabilityWebSearch) {
		reply.CapabilitiesUsed = &models.CapabilitiesUsed{WebSearch: true}
	}

	applied, err := s.store.AttachReply(ctx, chatID, msgID, reply)
	if err != nil {
		// Generated content already streamed; retry the finalize write once
		// before giving up.
		applied, err = s.store.AttachReply(ctx, chatID, msgID, reply)
	}
	if err != nil {
		s.logger.Error("finalize reply", "chat_id", chatID, "message_id", msgID, "error", err)
		return msg, fmt.Errorf("finalize reply: %w", err)
	}
	if !applied {
		// Only a duplicate retry can land here; the stored reply wins.
		s.logger.Warn("reply already finalized, ignoring duplicate",
			"chat_id", chatID, "message_id", msgID)
	}

	s.publishReply(ctx, chatID, msgID)
	forward(StreamEvent{Type: EventDone, ChatID: chatID, MessageID: msgID})
	return msg, nil
}

// SendImage appends a message with an image placeholder reply, renders the
// image and finalizes the reply with the stored artifact's URL. The
// returned message reflects the terminal state, including reply.error on
// failure.
func (s *Service) SendImage(ctx context.Context, req *SendRequest) (*models.Message, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if s.images == nil || s.blobs == nil {
		return nil, fmt.Errorf("%w: image generation disabled", ErrInvalidRequest)
	}
	if _, err := ai.Validate(req.Provider, req.Model, ai.CapabilityImageGeneration); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	prep, err := s.prepare(ctx, req, models.AISpec{Model: req.Model, Provider: req.Provider})
	if err != nil {
		return nil, err
	}
	msgID := prep.batch.MessageID
	prep.batch.PendingReply = &models.Reply{
		ID:               msgID,
		CreatedAt:        time.Now().UTC(),
		Image:            "",
		CapabilitiesUsed: &models.CapabilitiesUsed{ImageGeneration: true},
	}

	msg, err := s.appendMessage(ctx, prep.batch)
	if err != nil {
		return nil, err
	}
	chatID := prep.batch.ChatID
	s.publish(StreamEvent{Type: EventHead, ChatID: chatID, MessageID: msgID, Path: msg.Path})

	fail := func(cause error) (*models.Message, error) {
		s.logger.Error("image generation failed",
			"chat_id", chatID, "message_id", msgID, "error", cause)
		if err := s.store.FailReply(ctx, chatID, msgID, SafeErrImage); err != nil {
			s.logger.Error("persist error marker", "message_id", msgID, "error", err)
		}
		s.publishReply(ctx, chatID, msgID)
		final, _ := s.store.GetMessage(ctx, chatID, msgID)
		if final == nil {
			final = msg
		}
		return final, fmt.Errorf("%s", SafeErrImage)
	}

	raw, mimeType, err := s.images.Generate(ctx, req.Model, req.Prompt)
	if err != nil {
		return fail(err)
	}
	url, err := s.blobs.Put(ctx, msgID, raw, mimeType)
	if err != nil {
		return fail(err)
	}
	if err := s.store.FinalizeImage(ctx, chatID, msgID, url); err != nil {
		return fail(err)
	}

	s.publishReply(ctx, chatID, msgID)
	return s.store.GetMessage(ctx, chatID, msgID)
}

// publishReply pushes the persisted reply state to attached viewers.
func (s *Service) publishReply(ctx context.Context, chatID, msgID string) {
	if s.bus == nil {
		return
	}
	msg, err := s.store.GetMessage(ctx, chatID, msgID)
	if err != nil || msg.Reply == nil {
		return
	}
	s.bus.Publish(StreamEvent{
		Type:      EventReply,
		ChatID:    chatID,
		MessageID: msgID,
		Path:      msg.Path,
		Reply:     msg.Reply,
	})
}

// View is one chat rendered for a client: the resolved active thread plus
// the branch menus along it.
type View struct {
	Chat    *models.Chat
	Thread  []models.Message
	Menus   map[string][]BranchOption
	Pending bool
}

// requireRead rejects readers that neither own the chat nor hold a public
// link.
func requireRead(chat *models.Chat, user string) error {
	if chat.User != user && !chat.Public {
		return ErrForbidden
	}
	return nil
}

// ChatView loads a chat and resolves its active thread. viewBranch selects
// a branch key, empty for the default; unknown selectors fail soft.
func (s *Service) ChatView(ctx context.Context, user, chatID, viewBranch string) (*View, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := requireRead(chat, user); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}

	thread := ActiveThread(chat, msgs, viewBranch)
	pending := len(thread) > 0 && thread[len(thread)-1].Pending()
	return &View{
		Chat:    chat,
		Thread:  thread,
		Menus:   BranchMenu(chat, thread),
		Pending: pending,
	}, nil
}

// Subscribe attaches a viewer to a chat: a consistent snapshot plus the
// live event channel from that point on.
func (s *Service) Subscribe(ctx context.Context, user, chatID, viewBranch string) (*View, <-chan StreamEvent, error) {
	view, err := s.ChatView(ctx, user, chatID, viewBranch)
	if err != nil {
		return nil, nil, err
	}
	if s.bus == nil {
		return nil, nil, fmt.Errorf("event bus not configured")
	}
	events, err := s.bus.Subscribe(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	return view, events, nil
}

// ListChats returns the caller's chats, most recently active first.
func (s *Service) ListChats(ctx context.Context, user string) ([]models.Chat, error) {
	return s.store.ListChats(ctx, user)
}

// DeleteChat removes a chat and its tree. Owner only.
func (s *Service) DeleteChat(ctx context.Context, user, chatID string) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.User != user {
		return ErrForbidden
	}
	if err := s.store.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(StreamEvent{Type: EventChatDeleted, ChatID: chatID})
	}
	return nil
}

// SetPublic toggles link sharing. Owner only.
func (s *Service) SetPublic(ctx context.Context, user, chatID string, public bool) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.User != user {
		return ErrForbidden
	}
	return s.store.SetChatPublic(ctx, chatID, public)
}
