package docpool

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestEditorContents(t *testing.T) {
	editor := NewEditor()
	assert.Equal(t, "\n", editor.GetText())

	editor.SetContents(*NewDelta().Insert("hello"), EditSourceApi)
	assert.Equal(t, "hello\n", editor.GetText())
	assert.Equal(t, 6, editor.Length())

	editor.UpdateContents(*NewDelta().Retain(5).Insert(" world"), EditSourceUser)
	assert.Equal(t, "hello world\n", editor.GetText())
}

func TestEditorTextChangeCallback(t *testing.T) {
	editor := NewEditor()

	var changes []Delta
	var sources []EditSource
	unsub := editor.AddTextChangeCallback(func(change Delta, source EditSource) {
		changes = append(changes, change)
		sources = append(sources, source)
	})

	change := NewDelta().Insert("a")
	editor.UpdateContents(*change, EditSourceUser)
	assert.Equal(t, 1, len(changes))
	assert.Equal(t, EditSourceUser, sources[0])
	assert.Equal(t, true, DeltaEqual(*change, changes[0]))

	// silent source emits nothing
	editor.UpdateContents(*NewDelta().Insert("b"), EditSourceSilent)
	assert.Equal(t, 1, len(changes))

	unsub()
	editor.UpdateContents(*NewDelta().Insert("c"), EditSourceUser)
	assert.Equal(t, 1, len(changes))
}

func TestEditorSelection(t *testing.T) {
	editor := NewEditor()
	editor.SetContents(*NewDelta().Insert("hello world"), EditSourceApi)

	assert.Equal(t, nil, editor.GetSelection())

	editor.SetSelection(5, 3)
	selection := editor.GetSelection()
	assert.Equal(t, 5, selection.Index)
	assert.Equal(t, 3, selection.Length)

	// clamped to the document length
	editor.SetSelection(100, 10)
	selection = editor.GetSelection()
	assert.Equal(t, 12, selection.Index)
	assert.Equal(t, 0, selection.Length)

	// shrinking the document clamps the held selection
	editor.SetSelection(5, 7)
	editor.SetContents(*NewDelta().Insert("hello"), EditSourceApi)
	selection = editor.GetSelection()
	assert.Equal(t, 5, selection.Index)
	assert.Equal(t, 1, selection.Length)

	editor.ClearSelection()
	assert.Equal(t, nil, editor.GetSelection())
}
