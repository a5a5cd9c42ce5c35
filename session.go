package docpool

import (
	"sync"

	"github.com/golang/glog"
)

type DocumentSessionSettings struct {
	Reconciler *ReconcilerSettings
	// display name used as the annotation author.
	// falls back to the ephemeral client id when empty.
	AuthorName string
}

func DefaultDocumentSessionSettings() *DocumentSessionSettings {
	return &DocumentSessionSettings{
		Reconciler: DefaultReconcilerSettings(),
	}
}

// one open document editing session: editor, reconciler, annotation layer and
// chat log wired together by explicit construction. exactly one Open/Close
// pair per document; Close always releases the room and the subscription.
type DocumentSession struct {
	settings *DocumentSessionSettings

	editor      *Editor
	transport   RoomTransport
	reconciler  *Reconciler
	annotations *AnnotationLayer

	stateLock      sync.Mutex
	documentId     string
	chat           []string
	unsubTransport func()
}

func NewDocumentSessionWithDefaults(transport RoomTransport) *DocumentSession {
	return NewDocumentSession(transport, DefaultDocumentSessionSettings())
}

func NewDocumentSession(transport RoomTransport, settings *DocumentSessionSettings) *DocumentSession {
	editor := NewEditor()
	reconciler := NewReconciler(editor, transport, settings.Reconciler)
	session := &DocumentSession{
		settings:   settings,
		editor:     editor,
		transport:  transport,
		reconciler: reconciler,
	}
	session.annotations = NewAnnotationLayer(editor, reconciler, session.authorName)
	return session
}

func (self *DocumentSession) authorName() string {
	if self.settings.AuthorName != "" {
		return self.settings.AuthorName
	}
	return self.transport.ClientId()
}

func (self *DocumentSession) Editor() *Editor {
	return self.editor
}

func (self *DocumentSession) Reconciler() *Reconciler {
	return self.reconciler
}

// opens a document: subscribes to the room events with one scoped
// subscription, seeds the editor with the document content, and joins the
// room. a session that is already open is closed first, so repeated opens
// never accumulate handlers.
func (self *DocumentSession) Open(document *Document) error {
	self.Close()

	content, err := document.ContentDelta()
	if err != nil {
		return err
	}

	sub := &RoomSubscription{
		OnRemoteContentDelta:  self.reconciler.ApplyRemoteDelta,
		OnRemoteTitleChange:   self.reconciler.ApplyRemoteTitle,
		OnInitialJoinSnapshot: self.handleInitialJoin,
		OnChatMessage:         self.handleChatMessage,
		OnError: func(err error) {
			glog.Infof("[ds]transport error = %s\n", err)
		},
	}

	self.stateLock.Lock()
	self.documentId = document.Id
	self.chat = nil
	self.unsubTransport = self.transport.Subscribe(sub)
	self.stateLock.Unlock()

	self.reconciler.Open(document.Id)
	self.reconciler.SetContent(content)
	if document.Title != "" {
		self.reconciler.ApplyRemoteTitle(RemoteTitle{
			Id:    document.Id,
			Title: document.Title,
		})
	}
	self.transport.JoinRoom(document.Id)
	return nil
}

// idempotent. always unsubscribes and leaves the room, in that order.
func (self *DocumentSession) Close() {
	self.stateLock.Lock()
	documentId := self.documentId
	unsubTransport := self.unsubTransport
	self.documentId = ""
	self.unsubTransport = nil
	self.chat = nil
	self.stateLock.Unlock()

	if unsubTransport != nil {
		unsubTransport()
	}
	if documentId != "" {
		self.transport.LeaveRoom(documentId)
	}
	self.reconciler.Close()
}

func (self *DocumentSession) handleInitialJoin(snapshot JoinSnapshot) {
	self.reconciler.ApplyInitialSnapshot(snapshot)
	if snapshot.Msg != "" {
		self.appendChat(snapshot.Msg)
	}
}

func (self *DocumentSession) handleChatMessage(chatMessage ChatMessage) {
	self.stateLock.Lock()
	documentId := self.documentId
	self.stateLock.Unlock()

	if documentId == "" || chatMessage.Id != documentId {
		return
	}
	self.appendChat(chatMessage.Msg)
}

func (self *DocumentSession) appendChat(msg string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.chat = append(self.chat, msg)
}

// the in memory chat log for the open document. the returned slice is a copy.
func (self *DocumentSession) Chat() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	chat := make([]string, len(self.chat))
	copy(chat, self.chat)
	return chat
}

// the backend echoes sent messages back through the chat stream,
// so nothing is appended locally here
func (self *DocumentSession) SendChatMessage(msg string) {
	self.stateLock.Lock()
	documentId := self.documentId
	self.stateLock.Unlock()

	if documentId == "" {
		return
	}
	self.transport.SendChatMessage(documentId, msg)
}

func (self *DocumentSession) Title() string {
	return self.reconciler.Title()
}

func (self *DocumentSession) SetTitle(title string) {
	self.reconciler.SetLocalTitle(title)
}

// annotation surface

func (self *DocumentSession) Comments() map[string]*Annotation {
	return self.annotations.Annotations()
}

func (self *DocumentSession) CreateComment(index int, length int, comment string) string {
	return self.annotations.Create(index, length, comment)
}

func (self *DocumentSession) EditComment(id string, comment string) {
	self.annotations.Edit(id, comment)
}

func (self *DocumentSession) DeleteComment(id string) {
	self.annotations.Delete(id)
}

func (self *DocumentSession) HighlightComment(id string) (*Selection, bool) {
	return self.annotations.Highlight(id)
}
