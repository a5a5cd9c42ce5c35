package docpool

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func newTestAnnotationLayer(t *testing.T) (*Editor, *testRoomTransport, *Reconciler, *AnnotationLayer) {
	editor := NewEditor()
	transport := newTestRoomTransport("client-a")
	reconciler := NewReconcilerWithDefaults(editor, transport)
	layer := NewAnnotationLayer(editor, reconciler, func() string {
		return "alice"
	})
	t.Cleanup(func() {
		layer.Detach()
		reconciler.Detach()
	})
	reconciler.Open("doc-1")
	return editor, transport, reconciler, layer
}

func TestAnnotationCreateReadEditDelete(t *testing.T) {
	editor, transport, reconciler, layer := newTestAnnotationLayer(t)

	reconciler.SetContent(*NewDelta().Insert("hello world"))

	id := layer.Create(6, 5, "nice word")
	assert.NotEqual(t, "", id)

	// the attribute value rides on the op in the documented shape
	content := editor.GetContents()
	var found *CommentAttribute
	for _, op := range content.Ops {
		if comment, ok := commentAttributeOf(op.Attributes); ok {
			found = comment
			assert.Equal(t, "world", op.Insert)
		}
	}
	assert.NotEqual(t, nil, found)
	assert.Equal(t, id, found.Id)
	assert.Equal(t, "nice word", found.CommentData)
	assert.Equal(t, "alice", found.Author)

	// the wrap delta was transmitted
	assert.Equal(t, 1, transport.contentSendCount())

	annotations := layer.Annotations()
	assert.Equal(t, 1, len(annotations))
	assert.Equal(t, "nice word", annotations[id].Comment)
	assert.Equal(t, "world", annotations[id].CommentedText)
	assert.Equal(t, "alice", annotations[id].Author)

	layer.Edit(id, "better word")
	annotations = layer.Annotations()
	assert.Equal(t, "better word", annotations[id].Comment)
	assert.Equal(t, "world", annotations[id].CommentedText)

	layer.Delete(id)
	annotations = layer.Annotations()
	assert.Equal(t, 0, len(annotations))
	// the text is left intact
	assert.Equal(t, "hello world\n", editor.GetText())
}

func TestAnnotationCreateRejections(t *testing.T) {
	_, _, reconciler, layer := newTestAnnotationLayer(t)

	reconciler.SetContent(*NewDelta().Insert("hello   world"))

	// empty selection
	assert.Equal(t, "", layer.Create(2, 0, "c"))

	// blank backing text
	assert.Equal(t, "", layer.Create(5, 3, "c"))

	assert.Equal(t, 0, len(layer.Annotations()))
}

func TestAnnotationEditRejections(t *testing.T) {
	_, _, reconciler, layer := newTestAnnotationLayer(t)

	reconciler.SetContent(*NewDelta().Insert("hello world"))
	id := layer.Create(0, 5, "c")

	// blank payload and unknown id are no-ops
	layer.Edit(id, "   ")
	layer.Edit("unknown", "x")

	annotations := layer.Annotations()
	assert.Equal(t, "c", annotations[id].Comment)
	assert.Equal(t, 1, len(annotations))
}

func TestAnnotationOrphanExclusion(t *testing.T) {
	editor, _, reconciler, layer := newTestAnnotationLayer(t)

	reconciler.SetContent(*NewDelta().Insert("hello world"))
	id := layer.Create(6, 5, "c")
	assert.Equal(t, 1, len(layer.Annotations()))

	// a remote edit deletes the commented text; the annotation becomes an
	// orphan and drops out of the read model
	reconciler.ApplyRemoteDelta(RemoteDelta{
		Delta:  *NewDelta().Retain(6).Delete(5),
		Author: "client-b",
	})
	assert.Equal(t, "hello \n", editor.GetText())
	assert.Equal(t, 0, len(layer.Annotations()))
	_ = id
}

func TestAnnotationProjectionIdempotent(t *testing.T) {
	_, _, reconciler, layer := newTestAnnotationLayer(t)

	reconciler.SetContent(*NewDelta().Insert("hello world"))
	id := layer.Create(0, 5, "c")

	layer.Project()
	layer.Project()
	annotations := layer.Annotations()
	assert.Equal(t, 1, len(annotations))
	assert.Equal(t, "hello", annotations[id].CommentedText)
}

func TestAnnotationMultiRun(t *testing.T) {
	editor, _, reconciler, layer := newTestAnnotationLayer(t)

	// the annotated span covers differently formatted runs
	reconciler.SetContent(*NewDelta().
		Insert("aa").
		InsertWithAttributes("bb", Attributes{"bold": true}).
		Insert("cc"))

	id := layer.Create(1, 4, "c")
	annotations := layer.Annotations()
	assert.Equal(t, "abbc", annotations[id].CommentedText)

	// per run formatting survives the wrap
	content := editor.GetContents()
	boldRuns := 0
	for _, op := range content.Ops {
		if op.Attributes["bold"] == true {
			_, hasComment := commentAttributeOf(op.Attributes)
			assert.Equal(t, true, hasComment)
			boldRuns += 1
		}
	}
	assert.Equal(t, 1, boldRuns)

	// a remote insert in the middle splits the annotation into two runs
	reconciler.ApplyRemoteDelta(RemoteDelta{
		Delta:  *NewDelta().Retain(3).InsertWithAttributes("X", nil),
		Author: "client-b",
	})

	layer.Edit(id, "c2")
	annotations = layer.Annotations()
	assert.Equal(t, "c2", annotations[id].Comment)

	// delete strips the attribute on every run and keeps the formatting.
	// the plain insert split the bold span, so two bold runs remain.
	layer.Delete(id)
	assert.Equal(t, 0, len(layer.Annotations()))
	content = editor.GetContents()
	boldRuns = 0
	for _, op := range content.Ops {
		_, hasComment := commentAttributeOf(op.Attributes)
		assert.Equal(t, false, hasComment)
		if op.Attributes["bold"] == true {
			boldRuns += 1
		}
	}
	assert.Equal(t, 2, boldRuns)
	assert.Equal(t, "aabXbcc\n", editor.GetText())
}

func TestAnnotationCreateConcurrentRemote(t *testing.T) {
	// a remote delta racing a create must either fully precede or fully follow
	// the create's read-compute-apply step. an interleaving that shifts offsets
	// under the computed change would corrupt the document text.
	for i := 0; i < 500; i += 1 {
		editor := NewEditor()
		transport := newTestRoomTransport("client-a")
		reconciler := NewReconcilerWithDefaults(editor, transport)
		layer := NewAnnotationLayer(editor, reconciler, func() string {
			return "alice"
		})
		reconciler.Open("doc-1")
		reconciler.SetContent(*NewDelta().Insert("hello world"))

		done := make(chan struct{})
		go func() {
			defer close(done)
			reconciler.ApplyRemoteDelta(RemoteDelta{
				Delta:  *NewDelta().Retain(8).Insert("X"),
				Author: "client-b",
			})
		}()
		id := layer.Create(6, 5, "c")
		<-done

		// both orders yield this text. a torn interleaving loses the X or
		// duplicates the tail instead.
		assert.Equal(t, "hello woXrld\n", editor.GetText())

		// the read model always matches what the attribute actually wraps
		annotations := layer.Annotations()
		commentedText := annotations[id].CommentedText
		if commentedText != "world" && commentedText != "oXrld" {
			t.Fatalf("annotation wraps %q", commentedText)
		}

		layer.Detach()
		reconciler.Detach()
	}
}

func TestAnnotationHighlight(t *testing.T) {
	editor, _, reconciler, layer := newTestAnnotationLayer(t)

	reconciler.SetContent(*NewDelta().Insert("hello world"))
	id := layer.Create(6, 5, "c")

	selection, ok := layer.Highlight(id)
	assert.Equal(t, true, ok)
	assert.Equal(t, 6, selection.Index)
	assert.Equal(t, 5, selection.Length)
	assert.Equal(t, 6, editor.GetSelection().Index)

	// offsets shift with edits and the highlight follows
	reconciler.ApplyRemoteDelta(RemoteDelta{
		Delta:  *NewDelta().Insert(">> "),
		Author: "client-b",
	})
	selection, ok = layer.Highlight(id)
	assert.Equal(t, true, ok)
	assert.Equal(t, 9, selection.Index)

	_, ok = layer.Highlight("unknown")
	assert.Equal(t, false, ok)
}

func TestAnnotationRemoteComment(t *testing.T) {
	_, _, reconciler, layer := newTestAnnotationLayer(t)

	reconciler.SetContent(*NewDelta().Insert("hello world"))

	// a remote peer wraps text with a comment attribute; the local read model
	// picks it up from the projection alone
	reconciler.ApplyRemoteDelta(RemoteDelta{
		Delta: *NewDelta().Retain(0).Delete(5).InsertWithAttributes("hello", Attributes{
			"comment": map[string]any{
				"id":          "remote-id",
				"commentData": "from afar",
				"author":      "bob",
			},
		}),
		Author: "client-b",
	})

	annotations := layer.Annotations()
	assert.Equal(t, 1, len(annotations))
	assert.Equal(t, "from afar", annotations["remote-id"].Comment)
	assert.Equal(t, "hello", annotations["remote-id"].CommentedText)
	assert.Equal(t, "bob", annotations["remote-id"].Author)
}
