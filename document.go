package docpool

import (
	"encoding/json"
	"strings"
)

// a document as consumed from the api boundary.
// `content` is an opaque blob: a delta document for rich text documents,
// plain source text for code documents.
type Document struct {
	Id      string          `json:"_id"`
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
	Code    bool            `json:"code"`
}

// the content as a delta document.
// code documents become a single plain insert.
// a json-encoded string wrapping a delta is unwrapped first, since some
// backends store the delta blob as a string column.
func (self *Document) ContentDelta() (Delta, error) {
	if len(self.Content) == 0 {
		return Delta{}.Normalize(), nil
	}

	raw := self.Content
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if self.Code || !strings.HasPrefix(strings.TrimSpace(s), "{") {
			return NewDelta().Insert(s).Normalize(), nil
		}
		raw = json.RawMessage(s)
	}

	var delta Delta
	if err := json.Unmarshal(raw, &delta); err != nil {
		return Delta{}, err
	}
	return delta.Normalize(), nil
}

func (self *Document) SetContentDelta(delta Delta) error {
	contentJson, err := json.Marshal(delta)
	if err != nil {
		return err
	}
	self.Content = contentJson
	return nil
}
