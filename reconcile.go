package docpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// apply state machine. while a programmatic (remote origin) mutation is being
// applied, locally observed editor changes must not be retransmitted.
type applyState int32

const (
	applyIdle applyState = iota
	applyingRemote
)

type ReconcilerSettings struct {
	// rate control windows for outgoing emission. zero sends inline.
	// deltas are batched in order, titles coalesce to the latest value.
	ContentThrottleWindow time.Duration
	TitleThrottleWindow   time.Duration
}

func DefaultReconcilerSettings() *ReconcilerSettings {
	return &ReconcilerSettings{
		ContentThrottleWindow: 0,
		TitleThrottleWindow:   175 * time.Millisecond,
	}
}

// decides whether each local or remote change is applied to the shared
// document model. last applied wins at this layer; concurrent edit merging is
// the backend's job. this layer only suppresses echo and redundant reapply.
type Reconciler struct {
	editor    *Editor
	transport RoomTransport
	settings  *ReconcilerSettings

	// read by the editor change handler without taking stateLock,
	// since the handler fires synchronously inside guarded applies
	state atomic.Int32

	stateLock   sync.Mutex
	documentId  string
	lastApplied Delta
	title       string

	contentBatcher *batcher
	titleThrottle  *throttle

	appliedCallbacks     *CallbackList[func()]
	titleChangeCallbacks *CallbackList[func(title string)]

	unsubEditor func()
}

func NewReconcilerWithDefaults(editor *Editor, transport RoomTransport) *Reconciler {
	return NewReconciler(editor, transport, DefaultReconcilerSettings())
}

func NewReconciler(editor *Editor, transport RoomTransport, settings *ReconcilerSettings) *Reconciler {
	reconciler := &Reconciler{
		editor:               editor,
		transport:            transport,
		settings:             settings,
		lastApplied:          editor.GetContents(),
		contentBatcher:       newBatcher(settings.ContentThrottleWindow),
		titleThrottle:        newThrottle(settings.TitleThrottleWindow),
		appliedCallbacks:     NewCallbackList[func()](),
		titleChangeCallbacks: NewCallbackList[func(title string)](),
	}
	reconciler.unsubEditor = editor.AddTextChangeCallback(reconciler.handleTextChange)
	return reconciler
}

// fires after every applied mutation (remote, snapshot, or local programmatic),
// so derived read models can recompute
func (self *Reconciler) AddAppliedCallback(appliedCallback func()) func() {
	callbackId := self.appliedCallbacks.Add(appliedCallback)
	return func() {
		self.appliedCallbacks.Remove(callbackId)
	}
}

func (self *Reconciler) AddTitleChangeCallback(titleChangeCallback func(title string)) func() {
	callbackId := self.titleChangeCallbacks.Add(titleChangeCallback)
	return func() {
		self.titleChangeCallbacks.Remove(callbackId)
	}
}

func (self *Reconciler) Open(documentId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.documentId = documentId
	self.lastApplied = self.editor.GetContents()
}

func (self *Reconciler) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.documentId = ""
}

func (self *Reconciler) DocumentId() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.documentId
}

func (self *Reconciler) Title() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.title
}

// releases the editor change hook
func (self *Reconciler) Detach() {
	if self.unsubEditor != nil {
		self.unsubEditor()
		self.unsubEditor = nil
	}
}

// local mutation event from the editor.
// discarded while a guarded apply is in progress or no document is open,
// otherwise forwarded tagged with the local client identity.
// an empty delta is still transmitted: empty content is a valid state,
// distinct from no change.
func (self *Reconciler) handleTextChange(change Delta, source EditSource) {
	if source != EditSourceUser {
		return
	}
	if applyState(self.state.Load()) != applyIdle {
		return
	}

	self.stateLock.Lock()
	documentId := self.documentId
	self.stateLock.Unlock()
	if documentId == "" {
		return
	}

	author := self.transport.ClientId()
	self.contentBatcher.emit(func() {
		self.transport.SendContentDelta(documentId, change, author)
	})
}

// remote mutation event from the transport
func (self *Reconciler) ApplyRemoteDelta(remoteDelta RemoteDelta) {
	self.stateLock.Lock()

	if self.documentId == "" {
		self.stateLock.Unlock()
		return
	}
	if remoteDelta.Id != "" && remoteDelta.Id != self.documentId {
		// stale room echo. a client can keep receiving events briefly
		// after leaving a room
		glog.V(2).Infof("[rc]drop delta for %s (open %s)\n", remoteDelta.Id, self.documentId)
		self.stateLock.Unlock()
		return
	}
	if remoteDelta.Author != "" && remoteDelta.Author == self.transport.ClientId() {
		// echo of our own emitted change through the broadcast channel
		glog.V(2).Infof("[rc]drop self echo\n")
		self.stateLock.Unlock()
		return
	}
	if len(remoteDelta.Delta.Ops) == 0 {
		self.stateLock.Unlock()
		return
	}

	self.state.Store(int32(applyingRemote))
	selection := self.editor.GetSelection()
	self.editor.UpdateContents(remoteDelta.Delta, EditSourceApi)
	self.state.Store(int32(applyIdle))
	if selection != nil {
		self.editor.SetSelection(selection.Index, selection.Length)
	}

	self.lastApplied = self.editor.GetContents()
	self.stateLock.Unlock()

	self.applied()
}

func (self *Reconciler) ApplyRemoteTitle(remoteTitle RemoteTitle) {
	self.stateLock.Lock()

	if self.documentId == "" || (remoteTitle.Id != "" && remoteTitle.Id != self.documentId) {
		self.stateLock.Unlock()
		return
	}
	self.title = remoteTitle.Title
	self.stateLock.Unlock()

	for _, titleChangeCallback := range self.titleChangeCallbacks.Get() {
		HandleError(func() {
			titleChangeCallback(remoteTitle.Title)
		})
	}
}

// cached document state received on room join
func (self *Reconciler) ApplyInitialSnapshot(snapshot JoinSnapshot) {
	self.stateLock.Lock()

	if self.documentId == "" ||
		(snapshot.Id != "" && snapshot.Id != self.documentId) ||
		len(snapshot.Content.Ops) == 0 {
		self.stateLock.Unlock()
		return
	}

	self.state.Store(int32(applyingRemote))
	selection := self.editor.GetSelection()
	self.editor.SetContents(snapshot.Content, EditSourceApi)
	self.state.Store(int32(applyIdle))
	if selection != nil {
		self.editor.SetSelection(selection.Index, selection.Length)
	}

	self.lastApplied = self.editor.GetContents()
	if snapshot.Title != "" {
		self.title = snapshot.Title
	}
	self.stateLock.Unlock()

	self.applied()
}

// externally supplied content (not direct typing, not remote).
// a redundant set is a no-op by deep structural equality.
func (self *Reconciler) SetContent(content Delta) {
	self.stateLock.Lock()

	normalized := content.Normalize()
	if applyState(self.state.Load()) == applyingRemote ||
		DeltaEqual(normalized, self.lastApplied) {
		self.stateLock.Unlock()
		return
	}

	self.state.Store(int32(applyingRemote))
	selection := self.editor.GetSelection()
	self.editor.SetContents(normalized, EditSourceApi)
	self.state.Store(int32(applyIdle))
	if selection != nil {
		self.editor.SetSelection(selection.Index, selection.Length)
	}

	self.lastApplied = self.editor.GetContents()
	self.stateLock.Unlock()

	self.applied()
}

// applies a locally computed programmatic change (annotation ops), transmits
// it, and updates the reapply snapshot. `compute` runs under the same lock
// that serializes remote applies, so the change is always built against the
// exact document state it is applied to. a remote delta landing concurrently
// either fully precedes or fully follows the whole read-compute-apply step.
// an empty computed change is a no-op.
func (self *Reconciler) ApplyLocalFunc(compute func(current Delta) Delta) {
	self.stateLock.Lock()

	change := compute(self.editor.GetContents())
	if len(change.Ops) == 0 {
		self.stateLock.Unlock()
		return
	}

	self.state.Store(int32(applyingRemote))
	selection := self.editor.GetSelection()
	self.editor.UpdateContents(change, EditSourceApi)
	self.state.Store(int32(applyIdle))
	if selection != nil {
		self.editor.SetSelection(selection.Index, selection.Length)
	}

	self.lastApplied = self.editor.GetContents()
	documentId := self.documentId
	author := self.transport.ClientId()
	self.stateLock.Unlock()

	if documentId != "" {
		self.transport.SendContentDelta(documentId, change, author)
	}
	self.applied()
}

// local title input. emission is rate limited.
func (self *Reconciler) SetLocalTitle(title string) {
	self.stateLock.Lock()
	self.title = title
	documentId := self.documentId
	self.stateLock.Unlock()

	if documentId == "" {
		return
	}
	self.titleThrottle.emit(func() {
		self.transport.SendTitleChange(documentId, title)
	})
}

func (self *Reconciler) applied() {
	for _, appliedCallback := range self.appliedCallbacks.Get() {
		HandleError(appliedCallback)
	}
}
