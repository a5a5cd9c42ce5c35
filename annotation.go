package docpool

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// inline comments are a structured formatting attribute spanning one or more
// text runs. the attribute value carries the annotation payload, so the
// annotation's location is always derived from the document, never stored.
const commentAttributeKey = "comment"

type CommentAttribute struct {
	Id          string `json:"id"`
	CommentData string `json:"commentData"`
	Author      string `json:"author,omitempty"`
}

// the attribute value in the wire form carried on delta ops
func (self CommentAttribute) attributeValue() map[string]any {
	value := map[string]any{
		"id":          self.Id,
		"commentData": self.CommentData,
	}
	if self.Author != "" {
		value["author"] = self.Author
	}
	return value
}

// reads a comment attribute from op attributes, tolerating both locally built
// and wire decoded value shapes
func commentAttributeOf(attributes Attributes) (*CommentAttribute, bool) {
	value, ok := attributes[commentAttributeKey]
	if !ok || value == nil {
		return nil, false
	}

	var m map[string]any
	switch v := value.(type) {
	case map[string]any:
		m = v
	case Attributes:
		m = v
	case CommentAttribute:
		return &v, v.Id != ""
	case *CommentAttribute:
		return v, v != nil && v.Id != ""
	default:
		return nil, false
	}

	comment := &CommentAttribute{}
	if id, ok := m["id"].(string); ok {
		comment.Id = id
	}
	if commentData, ok := m["commentData"].(string); ok {
		comment.CommentData = commentData
	}
	if author, ok := m["author"].(string); ok {
		comment.Author = author
	}
	if comment.Id == "" {
		return nil, false
	}
	return comment, true
}

// one entry of the derived read model
type Annotation struct {
	Id            string
	Comment       string
	CommentedText string
	Author        string
}

// one contiguous text run currently carrying an annotation id
type annotationRun struct {
	index      int
	length     int
	text       string
	attributes Attributes
	comment    *CommentAttribute
}

// the backing runs per annotation id, in document order
func scanAnnotationRuns(content Delta) map[string][]annotationRun {
	runs := map[string][]annotationRun{}
	index := 0
	for _, op := range content.Ops {
		length := op.Length()
		if comment, ok := commentAttributeOf(op.Attributes); ok {
			if text, isText := op.Insert.(string); isText {
				runs[comment.Id] = append(runs[comment.Id], annotationRun{
					index:      index,
					length:     length,
					text:       text,
					attributes: cloneAttributes(op.Attributes),
					comment:    comment,
				})
			}
		}
		index += length
	}
	return runs
}

// maintains the derived annotation read model and the position index from
// annotation id to backing run ranges, both rebuilt from the document model
// on every mutation
type AnnotationLayer struct {
	editor     *Editor
	reconciler *Reconciler
	author     func() string

	stateLock   sync.Mutex
	runs        map[string][]annotationRun
	annotations map[string]*Annotation

	unsubApplied func()
}

func NewAnnotationLayer(editor *Editor, reconciler *Reconciler, author func() string) *AnnotationLayer {
	layer := &AnnotationLayer{
		editor:      editor,
		reconciler:  reconciler,
		author:      author,
		runs:        map[string][]annotationRun{},
		annotations: map[string]*Annotation{},
	}
	layer.unsubApplied = reconciler.AddAppliedCallback(layer.Project)
	return layer
}

func (self *AnnotationLayer) Detach() {
	if self.unsubApplied != nil {
		self.unsubApplied()
		self.unsubApplied = nil
	}
}

// rebuilds the read model and the position index by scanning every insert op.
// idempotent. an id whose accumulated text is blank is an orphan and is
// silently dropped.
func (self *AnnotationLayer) Project() {
	runs := scanAnnotationRuns(self.editor.GetContents())
	annotations := map[string]*Annotation{}

	for id, idRuns := range runs {
		var b strings.Builder
		for _, run := range idRuns {
			b.WriteString(run.text)
		}
		commentedText := strings.TrimSpace(b.String())
		if commentedText == "" {
			// orphan: no remaining non blank backing text
			continue
		}
		last := idRuns[len(idRuns)-1]
		annotations[id] = &Annotation{
			Id:            id,
			Comment:       last.comment.CommentData,
			CommentedText: commentedText,
			Author:        last.comment.Author,
		}
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.runs = runs
	self.annotations = annotations
}

// the current read model. the returned map is a copy.
func (self *AnnotationLayer) Annotations() map[string]*Annotation {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	annotations := make(map[string]*Annotation, len(self.annotations))
	for id, annotation := range self.annotations {
		a := *annotation
		annotations[id] = &a
	}
	return annotations
}

// wraps the selection with a fresh annotation: delete the selected runs and
// reinsert them with the comment attribute merged into each run's existing
// formatting. the change is computed against the live document inside the
// reconciler's apply lock, so a concurrent remote delta cannot shift offsets
// between read and apply. silently no-ops on an empty selection or blank
// backing text. returns the new annotation id, or "" when nothing was created.
func (self *AnnotationLayer) Create(index int, length int, comment string) string {
	if length <= 0 {
		return ""
	}

	id := ""
	self.reconciler.ApplyLocalFunc(func(current Delta) Delta {
		ops := current.Slice(index, length)

		var b strings.Builder
		for _, op := range ops {
			if text, ok := op.Insert.(string); ok {
				b.WriteString(text)
			}
		}
		if strings.TrimSpace(b.String()) == "" {
			return Delta{}
		}

		id = uuid.New().String()
		attribute := CommentAttribute{
			Id:          id,
			CommentData: comment,
			Author:      self.author(),
		}

		change := NewDelta().Retain(index).Delete(length)
		for _, op := range ops {
			switch insert := op.Insert.(type) {
			case string:
				merged := mergeAttributes(op.Attributes, Attributes{
					commentAttributeKey: attribute.attributeValue(),
				})
				change.InsertWithAttributes(insert, merged)
			case map[string]any:
				// embeds are reinserted untouched, annotations span text runs
				change.InsertEmbed(insert, op.Attributes)
			}
		}
		return *change
	})
	return id
}

// replaces the comment payload on every backing run of the id, preserving each
// run's other formatting. the runs are located from the live document inside
// the reconciler's apply lock. no-ops on blank text or an unknown id.
func (self *AnnotationLayer) Edit(id string, comment string) {
	if strings.TrimSpace(comment) == "" {
		return
	}

	self.reconciler.ApplyLocalFunc(func(current Delta) Delta {
		idRuns := scanAnnotationRuns(current)[id]
		if len(idRuns) == 0 {
			return Delta{}
		}

		change := NewDelta()
		position := 0
		for _, run := range idRuns {
			change.Retain(run.index - position)
			attribute := CommentAttribute{
				Id:          id,
				CommentData: comment,
				Author:      run.comment.Author,
			}
			change.RetainWithAttributes(run.length, Attributes{
				commentAttributeKey: attribute.attributeValue(),
			})
			position = run.index + run.length
		}
		return *change
	})
}

// strips the annotation from every backing run: delete the run and reinsert
// the same text with the comment attribute removed and all other formatting
// retained. the underlying text is left intact. runs are located from the
// live document inside the reconciler's apply lock.
func (self *AnnotationLayer) Delete(id string) {
	self.reconciler.ApplyLocalFunc(func(current Delta) Delta {
		idRuns := scanAnnotationRuns(current)[id]
		if len(idRuns) == 0 {
			return Delta{}
		}

		change := NewDelta()
		position := 0
		for _, run := range idRuns {
			change.Retain(run.index - position)
			change.Delete(run.length)
			stripped := cloneAttributes(run.attributes)
			delete(stripped, commentAttributeKey)
			if len(stripped) == 0 {
				stripped = nil
			}
			change.InsertWithAttributes(run.text, stripped)
			position = run.index + run.length
		}
		return *change
	})
}

// selects the span from the first to the last backing run of the id.
// the span is recomputed on demand since offsets shift with every edit.
func (self *AnnotationLayer) Highlight(id string) (*Selection, bool) {
	idRuns := self.runsOf(id)
	if len(idRuns) == 0 {
		return nil, false
	}

	first := idRuns[0]
	last := idRuns[len(idRuns)-1]
	selection := &Selection{
		Index:  first.index,
		Length: last.index + last.length - first.index,
	}
	self.editor.SetSelection(selection.Index, selection.Length)
	return selection, true
}

// sorted by document position
func (self *AnnotationLayer) runsOf(id string) []annotationRun {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	idRuns := self.runs[id]
	out := make([]annotationRun, len(idRuns))
	copy(out, idRuns)
	return out
}
