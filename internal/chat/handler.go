package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/Tyrowin/chatrelay/internal/presence"
)

var (
	// ErrMalformedEvent is returned for frames that are not a valid envelope
	// or lack a required field.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for envelopes of an unsupported kind.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrInvalidImage is returned when an image body cannot be decoded.
	ErrInvalidImage = errors.New("invalid image")
)

// Session is one live transport connection.
type Session interface {
	ID() string
	RemoteAddr() string
	// Send queues payload for this session only. It reports false if the
	// session is gone or cannot keep up.
	Send(payload []byte) bool
}

// Broadcaster delivers a payload to every session connected at call time
// and reports how many sessions it was queued for.
type Broadcaster interface {
	Broadcast(payload []byte) int
}

// DisconnectPolicy decides which users are demoted when a session closes.
type DisconnectPolicy string

const (
	// DisconnectSession demotes only users announced on the closing session.
	DisconnectSession DisconnectPolicy = "session"
	// DisconnectAll demotes every online user.
	DisconnectAll DisconnectPolicy = "all"
)

// Valid reports whether p is a known policy.
func (p DisconnectPolicy) Valid() bool {
	return p == DisconnectSession || p == DisconnectAll
}

type sanitizer interface {
	Sanitize(s string) string
}

// Options configures a Handler. Zero values select defaults.
type Options struct {
	Policy       DisconnectPolicy
	MaxImageSize int
	Clock        presence.Clock
	Logger       *slog.Logger
}

// Handler reacts to session lifecycle signals and inbound events.
//
// Every presence write and the broadcast describing it happen under
// statusMu, so the last user_status a client sees for a username always
// matches the registry.
type Handler struct {
	statusMu     sync.Mutex
	registry     *presence.Registry
	broadcaster  Broadcaster
	sanitizer    sanitizer
	policy       DisconnectPolicy
	maxImageSize int
	clock        presence.Clock
	logger       *slog.Logger
}

// NewHandler returns a Handler that records presence in registry and fans
// out through broadcaster.
func NewHandler(registry *presence.Registry, broadcaster Broadcaster, opts Options) *Handler {
	if !opts.Policy.Valid() {
		opts.Policy = DisconnectSession
	}
	if opts.MaxImageSize <= 0 {
		opts.MaxImageSize = DefaultMaxImageSize
	}
	if opts.Clock == nil {
		opts.Clock = presence.SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Handler{
		registry:     registry,
		broadcaster:  broadcaster,
		sanitizer:    bluemonday.StrictPolicy(),
		policy:       opts.Policy,
		maxImageSize: opts.MaxImageSize,
		clock:        opts.Clock,
		logger:       opts.Logger.With("component", "chat"),
	}
}

// Connect is called once a session is registered. No username is bound
// until the client announces one.
func (h *Handler) Connect(s Session) {
	h.logger.Debug("session connected", "session", s.ID(), "remote", s.RemoteAddr())
}

// Disconnect demotes the users the policy attributes to s and broadcasts
// each transition.
func (h *Handler) Disconnect(s Session) {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()

	var demoted []string
	switch h.policy {
	case DisconnectAll:
		demoted = h.registry.ReleaseAll()
	default:
		demoted = h.registry.ReleaseSession(s.ID())
	}

	h.logger.Debug("session disconnected",
		"session", s.ID(),
		"remote", s.RemoteAddr(),
		"demoted", len(demoted))
	for _, username := range demoted {
		h.PublishStatus(username, presence.StatusOffline)
	}
}

// Handle decodes one inbound frame from s and acts on it. Failures are
// logged and confined to this frame.
func (h *Handler) Handle(s Session, raw []byte) error {
	err := h.dispatch(s, raw)
	if err != nil {
		h.logger.Warn("dropping inbound event",
			"session", s.ID(),
			"remote", s.RemoteAddr(),
			"error", err)
	}
	return err
}

func (h *Handler) dispatch(s Session, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Event {
	case EventMessage:
		return h.handleMessage(env.Data)
	case EventImage:
		return h.handleImage(s, env.Data)
	case EventUserStatus:
		return h.handleStatus(s, env.Data)
	case "":
		return fmt.Errorf("%w: missing event kind", ErrMalformedEvent)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func (h *Handler) handleMessage(data json.RawMessage) error {
	var in inboundMessage
	if err := decodeData(data, &in); err != nil {
		return err
	}
	if in.Username == nil {
		return fmt.Errorf("%w: message without username", ErrMalformedEvent)
	}
	if in.Message == nil {
		return fmt.Errorf("%w: message without text", ErrMalformedEvent)
	}

	return h.publish(EventMessage, MessageEvent{
		Username:  h.sanitizer.Sanitize(*in.Username),
		Message:   h.sanitizer.Sanitize(*in.Message),
		Timestamp: h.timestamp(),
	})
}

func (h *Handler) handleImage(s Session, data json.RawMessage) error {
	var in inboundImage
	err := decodeData(data, &in)
	if err == nil {
		err = h.validateImage(&in)
	}
	if err != nil {
		h.rejectImage(s, err)
		return err
	}

	return h.publish(EventImage, ImageEvent{
		Username:  h.sanitizer.Sanitize(*in.Username),
		ImageData: in.ImageData,
		Filename:  h.sanitizer.Sanitize(in.Filename),
		MimeType:  in.MimeType,
		Timestamp: h.timestamp(),
	})
}

func (h *Handler) validateImage(in *inboundImage) error {
	if in.Username == nil {
		return fmt.Errorf("%w: missing username", ErrInvalidImage)
	}
	if in.Filename == "" {
		return fmt.Errorf("%w: missing filename", ErrInvalidImage)
	}
	img, err := decodeImageData(in.ImageData, h.maxImageSize)
	if err != nil {
		return err
	}
	if in.MimeType == "" {
		in.MimeType = img.mimeType
	}
	return nil
}

// rejectImage unicasts an image_error to the originating session.
func (h *Handler) rejectImage(s Session, cause error) {
	payload, err := Encode(EventImageError, ImageErrorEvent{Message: cause.Error()})
	if err != nil {
		h.logger.Error("encoding image error", "error", err)
		return
	}
	if !s.Send(payload) {
		h.logger.Debug("image error not delivered", "session", s.ID())
	}
}

func (h *Handler) handleStatus(s Session, data json.RawMessage) error {
	var in inboundStatus
	if err := decodeData(data, &in); err != nil {
		return err
	}
	if in.Username == nil {
		return fmt.Errorf("%w: status without username", ErrMalformedEvent)
	}
	if !in.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrMalformedEvent, in.Status)
	}

	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	h.registry.Announce(s.ID(), *in.Username, in.Status)
	h.PublishStatus(*in.Username, in.Status)
	return nil
}

// StatusLocker returns the lock that orders presence writes with their
// broadcasts. The liveness sweeper holds it around each expiry.
func (h *Handler) StatusLocker() sync.Locker {
	return &h.statusMu
}

// PublishStatus broadcasts a status transition. Client announcements,
// disconnects and the liveness sweeper all report through here. Callers
// that also write the registry must hold StatusLocker.
func (h *Handler) PublishStatus(username string, status presence.Status) {
	event := StatusEvent{Username: h.sanitizer.Sanitize(username), Status: status}
	if err := h.publish(EventUserStatus, event); err != nil {
		h.logger.Error("publishing status", "username", username, "error", err)
	}
}

// ExpireNotifier adapts PublishStatus for the liveness sweeper.
func (h *Handler) ExpireNotifier() presence.NotifyFunc {
	return func(username string) {
		h.PublishStatus(username, presence.StatusOffline)
	}
}

func (h *Handler) publish(event string, data any) error {
	payload, err := Encode(event, data)
	if err != nil {
		return err
	}
	n := h.broadcaster.Broadcast(payload)
	h.logger.Debug("broadcast", "event", event, "recipients", n)
	return nil
}

func (h *Handler) timestamp() string {
	return h.clock.Now().Format(TimestampLayout)
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}
