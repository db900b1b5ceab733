package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/pkg/fault"
)

// Command is one client request on the WebSocket. Type selects the action;
// the remaining fields carry its arguments.
type Command struct {
	Type string `json:"type"`

	// Enabled is the argument of set_auto_answer.
	Enabled bool `json:"enabled,omitempty"`

	// Secret is the argument of set_credential.
	Secret string `json:"secret,omitempty"`

	// Model is the argument of set_model.
	Model string `json:"model,omitempty"`

	// Text is the argument of set_system_prompt and set_context.
	Text string `json:"text,omitempty"`

	// Path is the argument of add_file.
	Path string `json:"path,omitempty"`

	// Name is the argument of remove_file.
	Name string `json:"name,omitempty"`

	// MIME is the argument of audio_start: the container type the client's
	// recorder negotiated.
	MIME string `json:"mime,omitempty"`

	// Data is the argument of audio_chunk, base64-encoded on the wire.
	Data []byte `json:"data,omitempty"`

	// Level is the argument of audio_level, normalized to [0, 1].
	Level float64 `json:"level,omitempty"`
}

// Message is one server push on the WebSocket: either a session event or the
// outcome of a command.
type Message struct {
	Type      string     `json:"type"`
	Command   string     `json:"command,omitempty"`
	Error     string     `json:"error,omitempty"`
	Text      string     `json:"text,omitempty"`
	FullText  string     `json:"full_text,omitempty"`
	Name      string     `json:"name,omitempty"`
	Discarded bool       `json:"discarded,omitempty"`
	Fault     *faultBody `json:"fault,omitempty"`
}

// errNoAudioFeed rejects audio_* commands on a server without a feed sink.
var errNoAudioFeed = errors.New("gateway: no audio feed configured")

type faultBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// eventMessage converts a controller event to its wire form.
func eventMessage(ev session.Event) Message {
	msg := Message{
		Type:      string(ev.Type),
		Text:      ev.Text,
		FullText:  ev.FullText,
		Discarded: ev.Discarded,
	}
	if ev.Fault != nil {
		msg.Fault = &faultBody{
			Kind:    string(ev.Fault.Kind),
			Message: ev.Fault.Message,
			Hint:    ev.Fault.Hint,
		}
	}
	return msg
}

// client is one connected WebSocket subscriber. Events are fanned out through
// a buffered send channel; a subscriber that cannot keep up is disconnected
// rather than allowed to block the broadcast.
type client struct {
	conn *websocket.Conn
	send chan Message

	// feeding marks that this client attached the audio feed; the feed is
	// detached when the client goes away.
	feeding bool
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-host desktop clients, no fixed origin
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan Message, 64),
	}
	s.register(c)
	defer s.unregister(c)

	ctx := r.Context()
	go c.writeLoop(ctx)

	s.log.Info("websocket client connected", "remote", r.RemoteAddr)
	s.readLoop(ctx, c)
	conn.Close(websocket.StatusNormalClosure, "bye")
	s.log.Info("websocket client disconnected", "remote", r.RemoteAddr)
}

// readLoop decodes commands until the connection drops.
func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		var cmd Command
		if err := wsjson.Read(ctx, c.conn, &cmd); err != nil {
			return
		}

		name, err := s.execute(ctx, c, cmd)
		if err == nil && dataPlane(cmd.Type) {
			// Chunk and level pushes arrive continuously; acking each one
			// would double the traffic for no benefit.
			continue
		}
		msg := Message{Type: "ack", Command: cmd.Type, Name: name}
		if err != nil {
			msg = Message{Type: "command_error", Command: cmd.Type, Error: err.Error()}
			var f *fault.Fault
			if errors.As(err, &f) {
				msg.Fault = &faultBody{Kind: string(f.Kind), Message: f.Message, Hint: f.Hint}
			}
		}
		select {
		case c.send <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// dataPlane reports whether a command type is part of the continuous audio
// stream rather than a discrete control action.
func dataPlane(cmdType string) bool {
	return cmdType == "audio_chunk" || cmdType == "audio_level"
}

// execute dispatches one command to the session layer. The returned name is
// non-empty only for add_file, which reports the stored base name.
func (s *Server) execute(ctx context.Context, c *client, cmd Command) (string, error) {
	switch cmd.Type {
	case "start_stream":
		return "", s.ctrl.StartStream(ctx)
	case "stop_stream":
		return "", s.ctrl.StopStream()
	case "toggle_recording":
		return "", s.ctrl.ToggleRecording(ctx)
	case "set_auto_answer":
		s.ctrl.SetAutoAnswer(cmd.Enabled)
		return "", nil
	case "set_credential":
		return "", s.settings.SetCredential(cmd.Secret)
	case "set_model":
		return "", s.settings.SetModel(cmd.Model)
	case "set_system_prompt":
		s.settings.SetSystemPrompt(cmd.Text)
		return "", nil
	case "set_context":
		s.store.SetUserContext(cmd.Text)
		return "", nil
	case "add_file":
		return s.store.AddFile(ctx, cmd.Path)
	case "remove_file":
		s.store.RemoveFile(cmd.Name)
		return "", nil
	case "clear_context":
		s.store.Clear()
		return "", nil
	case "audio_start":
		if s.feed == nil {
			return "", errNoAudioFeed
		}
		s.feed.Attach(cmd.MIME)
		c.feeding = true
		return "", nil
	case "audio_chunk":
		if s.feed == nil {
			return "", errNoAudioFeed
		}
		s.feed.PushChunk(cmd.Data, time.Now())
		return "", nil
	case "audio_level":
		if s.feed == nil {
			return "", errNoAudioFeed
		}
		s.feed.PushLevel(cmd.Level)
		return "", nil
	case "audio_stop":
		if s.feed == nil {
			return "", errNoAudioFeed
		}
		s.feed.Detach()
		c.feeding = false
		return "", nil
	default:
		return "", fmt.Errorf("gateway: unknown command type %q", cmd.Type)
	}
}

// writeLoop drains the send channel onto the wire.
func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, c.conn, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.GatewayClients.Add(context.Background(), 1)
}

func (s *Server) unregister(c *client) {
	if c.feeding && s.feed != nil {
		s.feed.Detach()
	}
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	s.metrics.GatewayClients.Add(context.Background(), -1)
}

// broadcast fans a message out to every client. A client whose buffer is
// full is dropped; it can reconnect and resubscribe.
func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	var slow []*client
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.Unlock()

	for _, c := range slow {
		s.log.Warn("dropping slow websocket client")
		c.conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
	}
}
