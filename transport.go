package docpool

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

// wire event names. these are the backend contract and must be kept bit-exact.
const (
	EventJoinDocumentRoom         = "join-document-room"
	EventLeaveDocumentRoom        = "leave-document-room"
	EventUpdateDocumentContent    = "update-document-content"
	EventUpdateDocumentTitle      = "update-document-title"
	EventChatMessage              = "chat-message"
	EventDocumentInitialJoin      = "document-initial-join"
	EventRemoteDeltaContentChange = "remote-delta-content-change"
	EventDocumentTitleUpdated     = "document-title-updated"
	EventChatMessageFrontend      = "chat-message-frontend"
	EventSocketId                 = "socket-id"
	EventError                    = "error"
)

type wireEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type wireMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// incoming payloads

type RemoteDelta struct {
	// optional room tag. untagged events are accepted for the open document.
	Id     string `json:"id,omitempty"`
	Delta  Delta  `json:"delta"`
	Author string `json:"author"`
}

type RemoteTitle struct {
	Id    string `json:"id"`
	Title string `json:"title"`
}

type JoinSnapshot struct {
	Id      string `json:"id"`
	Content Delta  `json:"content"`
	Title   string `json:"title"`
	Msg     string `json:"msg,omitempty"`
}

type ChatMessage struct {
	Id  string `json:"id"`
	Msg string `json:"msg"`
}

// outgoing payloads

type ContentUpdate struct {
	Id     string `json:"id"`
	Delta  Delta  `json:"delta"`
	Author string `json:"author"`
}

type TitleUpdate struct {
	Id    string `json:"id"`
	Title string `json:"title"`
}

type ChatSend struct {
	Id  string `json:"id"`
	Msg string `json:"msg"`
}

// one handler struct per session, registered with a single Subscribe call and
// released with the returned unsubscribe. nil handlers are skipped.
type RoomSubscription struct {
	OnRemoteContentDelta  func(remoteDelta RemoteDelta)
	OnRemoteTitleChange   func(remoteTitle RemoteTitle)
	OnInitialJoinSnapshot func(snapshot JoinSnapshot)
	OnChatMessage         func(chatMessage ChatMessage)
	OnClientId            func(clientId string)
	OnError               func(err error)
}

// the bidirectional channel between one editing session and the backend,
// scoped to document rooms. all sends are fire and forget: the backend owns
// persistence, broadcast and authoritative ordering.
type RoomTransport interface {
	ClientId() string
	JoinRoom(documentId string)
	LeaveRoom(documentId string)
	SendContentDelta(documentId string, delta Delta, author string)
	SendTitleChange(documentId string, title string)
	SendChatMessage(documentId string, msg string)
	Subscribe(sub *RoomSubscription) func()
	Close()
}

type WsRoomTransportSettings struct {
	WsHandshakeTimeout      time.Duration
	PingTimeout             time.Duration
	WriteTimeout            time.Duration
	ReadTimeout             time.Duration
	ReconnectInitialTimeout time.Duration
	ReconnectMaxTimeout     time.Duration
	SendBufferSize          int
}

func DefaultWsRoomTransportSettings() *WsRoomTransportSettings {
	return &WsRoomTransportSettings{
		WsHandshakeTimeout:      2 * time.Second,
		PingTimeout:             1 * time.Second,
		WriteTimeout:            5 * time.Second,
		ReadTimeout:             15 * time.Second,
		ReconnectInitialTimeout: 500 * time.Millisecond,
		ReconnectMaxTimeout:     15 * time.Second,
		SendBufferSize:          32,
	}
}

type WsRoomTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	settings *WsRoomTransportSettings

	send chan []byte

	stateLock sync.Mutex
	// self assigned at construction, replaced by the server assigned id on
	// each (re)connect so that author tagging never races the connect
	clientId    string
	connected   bool
	joinedRooms map[string]bool

	subs *CallbackList[*RoomSubscription]
}

func NewWsRoomTransportWithDefaults(ctx context.Context, url string) *WsRoomTransport {
	return NewWsRoomTransport(ctx, url, DefaultWsRoomTransportSettings())
}

func NewWsRoomTransport(ctx context.Context, url string, settings *WsRoomTransportSettings) *WsRoomTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &WsRoomTransport{
		ctx:         cancelCtx,
		cancel:      cancel,
		url:         url,
		settings:    settings,
		send:        make(chan []byte, settings.SendBufferSize),
		clientId:    NewId().String(),
		joinedRooms: map[string]bool{},
		subs:        NewCallbackList[*RoomSubscription](),
	}
	go transport.run()
	return transport
}

func (self *WsRoomTransport) run() {
	defer self.cancel()

	reconnect := backoff.NewExponentialBackOff()
	reconnect.InitialInterval = self.settings.ReconnectInitialTimeout
	reconnect.MaxInterval = self.settings.ReconnectMaxTimeout
	// retry for the life of the transport
	reconnect.MaxElapsedTime = 0

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}

	for {
		ws, _, err := dialer.DialContext(self.ctx, self.url, nil)
		if err != nil {
			glog.Infof("[rt]connect error = %s\n", err)
			self.error(err)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(reconnect.NextBackOff()):
				continue
			}
		}
		reconnect.Reset()

		self.handleConnection(ws)

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(reconnect.NextBackOff()):
		}
	}
}

func (self *WsRoomTransport) handleConnection(ws *websocket.Conn) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	var joinedRooms []string
	self.stateLock.Lock()
	self.connected = true
	for documentId := range self.joinedRooms {
		joinedRooms = append(joinedRooms, documentId)
	}
	self.stateLock.Unlock()

	defer func() {
		self.stateLock.Lock()
		self.connected = false
		self.stateLock.Unlock()
	}()

	// rejoin rooms that were open before a reconnect
	for _, documentId := range joinedRooms {
		self.emit(EventJoinDocumentRoom, documentId)
	}

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case message, ok := <-self.send:
				if !ok {
					return
				}

				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
					// note that for websocket a deadline timeout cannot be recovered
					glog.Infof("[rt]-> error = %s\n", err)
					self.error(err)
					return
				}
				glog.V(2).Infof("[rt]->\n")
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	func() {
		defer handleCancel()

		ws.SetPongHandler(func(string) error {
			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			return nil
		})

		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				glog.Infof("[rt]<- error = %s\n", err)
				self.error(err)
				return
			}

			switch messageType {
			case websocket.TextMessage:
				self.dispatch(message)
				glog.V(2).Infof("[rt]<-\n")
			}
		}
	}()
}

func (self *WsRoomTransport) dispatch(message []byte) {
	var envelope wireEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		glog.V(2).Infof("[rt]malformed envelope = %s\n", err)
		return
	}

	// malformed payloads are expected filtering conditions, not failures
	switch envelope.Event {
	case EventSocketId:
		var clientId string
		if err := json.Unmarshal(envelope.Data, &clientId); err != nil || clientId == "" {
			return
		}
		self.stateLock.Lock()
		self.clientId = clientId
		self.stateLock.Unlock()
		for _, sub := range self.subs.Get() {
			self.invoke(func() {
				if sub.OnClientId != nil {
					sub.OnClientId(clientId)
				}
			})
		}
	case EventRemoteDeltaContentChange:
		var remoteDelta RemoteDelta
		if err := json.Unmarshal(envelope.Data, &remoteDelta); err != nil {
			glog.V(2).Infof("[rt]malformed delta event = %s\n", err)
			return
		}
		for _, sub := range self.subs.Get() {
			self.invoke(func() {
				if sub.OnRemoteContentDelta != nil {
					sub.OnRemoteContentDelta(remoteDelta)
				}
			})
		}
	case EventDocumentTitleUpdated:
		var remoteTitle RemoteTitle
		if err := json.Unmarshal(envelope.Data, &remoteTitle); err != nil {
			return
		}
		for _, sub := range self.subs.Get() {
			self.invoke(func() {
				if sub.OnRemoteTitleChange != nil {
					sub.OnRemoteTitleChange(remoteTitle)
				}
			})
		}
	case EventDocumentInitialJoin:
		var snapshot JoinSnapshot
		if err := json.Unmarshal(envelope.Data, &snapshot); err != nil {
			return
		}
		for _, sub := range self.subs.Get() {
			self.invoke(func() {
				if sub.OnInitialJoinSnapshot != nil {
					sub.OnInitialJoinSnapshot(snapshot)
				}
			})
		}
	case EventChatMessageFrontend:
		var chatMessage ChatMessage
		if err := json.Unmarshal(envelope.Data, &chatMessage); err != nil {
			return
		}
		for _, sub := range self.subs.Get() {
			self.invoke(func() {
				if sub.OnChatMessage != nil {
					sub.OnChatMessage(chatMessage)
				}
			})
		}
	case EventError:
		var errorMessage string
		if err := json.Unmarshal(envelope.Data, &errorMessage); err != nil {
			return
		}
		self.error(errors.New(errorMessage))
	default:
		glog.V(2).Infof("[rt]other=%s<-\n", envelope.Event)
	}
}

func (self *WsRoomTransport) invoke(do func()) {
	HandleError(do)
}

func (self *WsRoomTransport) error(err error) {
	for _, sub := range self.subs.Get() {
		self.invoke(func() {
			if sub.OnError != nil {
				sub.OnError(err)
			}
		})
	}
}

// drops the message when the transport is not connected or the buffer is full.
// sends are fire and forget by contract.
func (self *WsRoomTransport) emit(event string, data any) {
	message, err := json.Marshal(wireMessage{Event: event, Data: data})
	if err != nil {
		glog.Infof("[rt]encode error %s = %s\n", event, err)
		return
	}

	self.stateLock.Lock()
	connected := self.connected
	self.stateLock.Unlock()
	if !connected {
		glog.V(2).Infof("[rt]drop %s (not connected)\n", event)
		return
	}

	select {
	case self.send <- message:
	default:
		glog.Infof("[rt]send buffer full, drop %s\n", event)
	}
}

func (self *WsRoomTransport) ClientId() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.clientId
}

func (self *WsRoomTransport) JoinRoom(documentId string) {
	self.stateLock.Lock()
	self.joinedRooms[documentId] = true
	self.stateLock.Unlock()

	self.emit(EventJoinDocumentRoom, documentId)
}

// idempotent, safe to call when not joined
func (self *WsRoomTransport) LeaveRoom(documentId string) {
	self.stateLock.Lock()
	delete(self.joinedRooms, documentId)
	self.stateLock.Unlock()

	self.emit(EventLeaveDocumentRoom, documentId)
}

func (self *WsRoomTransport) SendContentDelta(documentId string, delta Delta, author string) {
	self.emit(EventUpdateDocumentContent, ContentUpdate{
		Id:     documentId,
		Delta:  delta,
		Author: author,
	})
}

func (self *WsRoomTransport) SendTitleChange(documentId string, title string) {
	self.emit(EventUpdateDocumentTitle, TitleUpdate{
		Id:    documentId,
		Title: title,
	})
}

func (self *WsRoomTransport) SendChatMessage(documentId string, msg string) {
	self.emit(EventChatMessage, ChatSend{
		Id:  documentId,
		Msg: msg,
	})
}

func (self *WsRoomTransport) Subscribe(sub *RoomSubscription) func() {
	callbackId := self.subs.Add(sub)
	return func() {
		self.subs.Remove(callbackId)
	}
}

func (self *WsRoomTransport) Close() {
	self.cancel()
}
