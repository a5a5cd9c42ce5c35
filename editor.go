package docpool

import (
	"sync"
)

// origin of an editor mutation, mirroring the engine's change sources.
// only user sourced changes are transmitted; programmatic applies use
// EditSourceApi; EditSourceSilent emits no text change event at all.
type EditSource string

const (
	EditSourceUser   EditSource = "user"
	EditSourceApi    EditSource = "api"
	EditSourceSilent EditSource = "silent"
)

// an ephemeral local selection range. never persisted, never shared.
type Selection struct {
	Index  int
	Length int
}

type TextChangeFunction func(change Delta, source EditSource)

// the in memory stand-in for the rich text engine: one document delta and one
// selection, owned exclusively by a single editing session.
type Editor struct {
	mutex     sync.Mutex
	content   Delta
	selection *Selection

	textChangeCallbacks *CallbackList[TextChangeFunction]
}

func NewEditor() *Editor {
	return &Editor{
		content:             Delta{}.Normalize(),
		textChangeCallbacks: NewCallbackList[TextChangeFunction](),
	}
}

func (self *Editor) AddTextChangeCallback(textChangeCallback TextChangeFunction) func() {
	callbackId := self.textChangeCallbacks.Add(textChangeCallback)
	return func() {
		self.textChangeCallbacks.Remove(callbackId)
	}
}

// replaces the whole document
func (self *Editor) SetContents(content Delta, source EditSource) {
	self.mutex.Lock()
	self.content = content.Clone().Normalize()
	self.clampSelection()
	change := self.content.Clone()
	self.mutex.Unlock()

	self.textChange(change, source)
}

// applies a change delta to the document
func (self *Editor) UpdateContents(change Delta, source EditSource) {
	self.mutex.Lock()
	self.content = self.content.Apply(change).Normalize()
	self.clampSelection()
	self.mutex.Unlock()

	self.textChange(change.Clone(), source)
}

func (self *Editor) GetContents() Delta {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.content.Clone()
}

func (self *Editor) GetText() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.content.Text()
}

func (self *Editor) Length() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.content.Length()
}

func (self *Editor) GetSelection() *Selection {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.selection == nil {
		return nil
	}
	selection := *self.selection
	return &selection
}

func (self *Editor) SetSelection(index int, length int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if index < 0 {
		index = 0
	}
	if length < 0 {
		length = 0
	}
	self.selection = &Selection{Index: index, Length: length}
	self.clampSelection()
}

func (self *Editor) ClearSelection() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.selection = nil
}

// must be called with `mutex`
func (self *Editor) clampSelection() {
	if self.selection == nil {
		return
	}
	length := self.content.Length()
	if length < self.selection.Index {
		self.selection.Index = length
	}
	if length < self.selection.Index+self.selection.Length {
		self.selection.Length = length - self.selection.Index
	}
}

func (self *Editor) textChange(change Delta, source EditSource) {
	if source == EditSourceSilent {
		return
	}
	for _, textChangeCallback := range self.textChangeCallbacks.Get() {
		HandleError(func() {
			textChangeCallback(change, source)
		})
	}
}
