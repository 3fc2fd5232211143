package discord

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"nhooyr.io/websocket"

	logx "discowatch/pkg/logx"
)

const defaultGatewayURL = "wss://gateway.discord.gg/?v=9&encoding=json"

// Gateway opcodes (the subset the consumer speaks).
const (
	opDispatch     = 0
	opHeartbeat    = 1
	opIdentify     = 2
	opHello        = 10
	opHeartbeatACK = 11
)

type EventKind int

const (
	EventReady EventKind = iota + 1
	EventMessageCreate
	EventMessageUpdate
	EventMessageDelete
	EventReactionAdd
	EventRelationshipRemove
	EventVoiceStateUpdate
)

// DeletedMessage is the partial payload of a MESSAGE_DELETE dispatch.
type DeletedMessage struct {
	ID        Snowflake `json:"id"`
	ChannelID Snowflake `json:"channel_id"`
	GuildID   Snowflake `json:"guild_id,omitempty"`
}

// Event is one parsed inbound gateway dispatch. Exactly one payload field
// matching Kind is set.
type Event struct {
	Kind         EventKind
	Message      *Message
	Deleted      *DeletedMessage
	Reaction     *Reaction
	Relationship *Relationship
	VoiceState   *VoiceState
}

// VoiceChannelView is a point-in-time view of one populated voice channel,
// assembled from the gateway's presence cache. Members may carry only an id
// when the gateway never saw the full user object; callers resolve names
// over REST as needed.
type VoiceChannelView struct {
	GuildID     Snowflake
	GuildName   string
	ChannelID   Snowflake
	ChannelName string
	Members     []User
}

type guildState struct {
	name     string
	channels map[Snowflake]string    // voice channel id -> name
	voice    map[Snowflake]Snowflake // user id -> channel id
}

// Gateway maintains the account's push-event connection: it identifies,
// heartbeats, parses the dispatches the watcher consumes and keeps a
// voice-presence cache fed by READY/GUILD_CREATE/VOICE_STATE_UPDATE.
type Gateway struct {
	token string
	url   string
	log   logx.Logger

	mu     sync.Mutex
	self   User
	guilds map[Snowflake]*guildState
	users  map[Snowflake]User // users seen in any payload, for name resolution

	readyOnce sync.Once
	readyCh   chan struct{}

	writeMu sync.Mutex
	conn    *websocket.Conn
	seq     int64
}

type GatewayOption func(*Gateway)

// WithGatewayURL overrides the gateway endpoint (tests).
func WithGatewayURL(u string) GatewayOption {
	return func(g *Gateway) { g.url = u }
}

func NewGateway(token string, log logx.Logger, opts ...GatewayOption) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gateway{
		token:   token,
		url:     defaultGatewayURL,
		log:     log,
		guilds:  map[Snowflake]*guildState{},
		users:   map[Snowflake]User{},
		readyCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type payload struct {
	Op int             `json:"op"`
	T  string          `json:"t,omitempty"`
	S  *int64          `json:"s,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

// Run connects and consumes the gateway until ctx is cancelled or the
// connection breaks. Parsed events are delivered in order on out.
func (g *Gateway) Run(ctx context.Context, out chan<- Event) error {
	conn, _, err := websocket.Dial(ctx, g.url, nil)
	if err != nil {
		return err
	}
	// READY payloads for user accounts are large.
	conn.SetReadLimit(1 << 24)
	g.writeMu.Lock()
	g.conn = conn
	g.writeMu.Unlock()
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Hello carries the heartbeat interval.
	var hello struct {
		HeartbeatInterval float64 `json:"heartbeat_interval"`
	}
	p, err := g.read(ctx)
	if err != nil {
		return err
	}
	if p.Op != opHello {
		return errors.New("gateway: expected hello")
	}
	if err := json.Unmarshal(p.D, &hello); err != nil {
		return err
	}
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}

	if err := g.identify(ctx); err != nil {
		return err
	}

	hbCtx, stopHB := context.WithCancel(ctx)
	defer stopHB()
	go g.heartbeatLoop(hbCtx, interval)

	for {
		p, err := g.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch p.Op {
		case opDispatch:
			if p.S != nil {
				g.writeMu.Lock()
				g.seq = *p.S
				g.writeMu.Unlock()
			}
			ev, ok := g.dispatch(p.T, p.D)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		case opHeartbeat:
			if err := g.sendHeartbeat(ctx); err != nil {
				return err
			}
		case opHeartbeatACK:
			// fine
		default:
			g.log.Debug("gateway op ignored", logx.Int("op", p.Op))
		}
	}
}

func (g *Gateway) read(ctx context.Context) (payload, error) {
	var p payload
	_, data, err := g.conn.Read(ctx)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	return p, nil
}

func (g *Gateway) write(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.conn.Write(ctx, websocket.MessageText, b)
}

func (g *Gateway) identify(ctx context.Context) error {
	return g.write(ctx, map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token": g.token,
			"properties": map[string]string{
				"os":      "Linux",
				"browser": "Chrome",
				"device":  "",
			},
			"compress": false,
		},
	})
}

func (g *Gateway) sendHeartbeat(ctx context.Context) error {
	g.writeMu.Lock()
	seq := g.seq
	g.writeMu.Unlock()
	var d any
	if seq != 0 {
		d = seq
	}
	return g.write(ctx, map[string]any{"op": opHeartbeat, "d": d})
}

func (g *Gateway) heartbeatLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := g.sendHeartbeat(ctx); err != nil {
				g.log.Debug("heartbeat send failed", logx.Err(err))
				return
			}
		}
	}
}

func (g *Gateway) dispatch(t string, d json.RawMessage) (Event, bool) {
	switch t {
	case "READY":
		var ready struct {
			User   User    `json:"user"`
			Guilds []Guild `json:"guilds"`
		}
		if err := json.Unmarshal(d, &ready); err != nil {
			g.log.Warn("ready payload malformed", logx.Err(err))
			return Event{}, false
		}
		g.mu.Lock()
		g.self = ready.User
		for _, gd := range ready.Guilds {
			g.mergeGuildLocked(gd)
		}
		g.mu.Unlock()
		g.readyOnce.Do(func() { close(g.readyCh) })
		g.log.Info("gateway ready",
			logx.String("user", ready.User.Tag()),
			logx.Int("guilds", len(ready.Guilds)))
		return Event{Kind: EventReady}, true

	case "GUILD_CREATE":
		var gd Guild
		if err := json.Unmarshal(d, &gd); err != nil {
			return Event{}, false
		}
		g.mu.Lock()
		g.mergeGuildLocked(gd)
		g.mu.Unlock()
		return Event{}, false

	case "MESSAGE_CREATE", "MESSAGE_UPDATE":
		var m Message
		if err := json.Unmarshal(d, &m); err != nil {
			return Event{}, false
		}
		g.rememberUser(m.Author)
		kind := EventMessageCreate
		if t == "MESSAGE_UPDATE" {
			kind = EventMessageUpdate
		}
		return Event{Kind: kind, Message: &m}, true

	case "MESSAGE_DELETE":
		var dm DeletedMessage
		if err := json.Unmarshal(d, &dm); err != nil {
			return Event{}, false
		}
		return Event{Kind: EventMessageDelete, Deleted: &dm}, true

	case "MESSAGE_REACTION_ADD":
		var r Reaction
		if err := json.Unmarshal(d, &r); err != nil {
			return Event{}, false
		}
		return Event{Kind: EventReactionAdd, Reaction: &r}, true

	case "RELATIONSHIP_REMOVE":
		var rel Relationship
		if err := json.Unmarshal(d, &rel); err != nil {
			return Event{}, false
		}
		return Event{Kind: EventRelationshipRemove, Relationship: &rel}, true

	case "VOICE_STATE_UPDATE":
		var vs VoiceState
		if err := json.Unmarshal(d, &vs); err != nil {
			return Event{}, false
		}
		g.applyVoiceState(vs)
		return Event{Kind: EventVoiceStateUpdate, VoiceState: &vs}, true
	}
	return Event{}, false
}

func (g *Gateway) mergeGuildLocked(gd Guild) {
	st := g.guilds[gd.ID]
	if st == nil {
		st = &guildState{channels: map[Snowflake]string{}, voice: map[Snowflake]Snowflake{}}
		g.guilds[gd.ID] = st
	}
	if gd.Name != "" {
		st.name = gd.Name
	}
	for _, ch := range gd.Channels {
		if ch.Type == ChannelGuildVoice {
			st.channels[ch.ID] = ch.Name
		}
	}
	for _, vs := range gd.VoiceStates {
		if vs.ChannelID == 0 {
			delete(st.voice, vs.UserID)
			continue
		}
		st.voice[vs.UserID] = vs.ChannelID
		if vs.Member != nil {
			g.users[vs.Member.User.ID] = vs.Member.User
		}
	}
}

func (g *Gateway) applyVoiceState(vs VoiceState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.guilds[vs.GuildID]
	if st == nil {
		st = &guildState{channels: map[Snowflake]string{}, voice: map[Snowflake]Snowflake{}}
		g.guilds[vs.GuildID] = st
	}
	if vs.ChannelID == 0 {
		delete(st.voice, vs.UserID)
	} else {
		st.voice[vs.UserID] = vs.ChannelID
	}
	if vs.Member != nil {
		g.users[vs.Member.User.ID] = vs.Member.User
	}
}

func (g *Gateway) rememberUser(u User) {
	if u.ID == 0 {
		return
	}
	g.mu.Lock()
	g.users[u.ID] = u
	g.mu.Unlock()
}

// WaitReady blocks until the READY dispatch arrived or ctx expired.
func (g *Gateway) WaitReady(ctx context.Context) error {
	select {
	case <-g.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Self returns the authenticated user once READY was seen.
func (g *Gateway) Self() (User, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.self, g.self.ID != 0
}

// GuildCount reports how many guilds the gateway has seen.
func (g *Gateway) GuildCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.guilds)
}

// GuildName resolves a guild id against the READY/GUILD_CREATE cache.
func (g *Gateway) GuildName(id Snowflake) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.guilds[id]
	if !ok {
		return "", false
	}
	return st.name, true
}

// KnownUser returns the cached user object for an id, if any payload has
// carried it.
func (g *Gateway) KnownUser(id Snowflake) (User, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.users[id]
	return u, ok
}

// VoiceChannels assembles the current voice presence into per-channel
// member lists.
func (g *Gateway) VoiceChannels() []VoiceChannelView {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []VoiceChannelView
	for gid, st := range g.guilds {
		byChannel := map[Snowflake][]User{}
		for uid, cid := range st.voice {
			u, ok := g.users[uid]
			if !ok {
				u = User{ID: uid}
			}
			byChannel[cid] = append(byChannel[cid], u)
		}
		for cid, members := range byChannel {
			out = append(out, VoiceChannelView{
				GuildID:     gid,
				GuildName:   st.name,
				ChannelID:   cid,
				ChannelName: st.channels[cid],
				Members:     members,
			})
		}
	}
	return out
}
