package docpool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// rich text delta model, wire compatible with the editor engine:
// a document is an ordered list of insert ops, a change is an ordered list of
// insert/retain/delete ops. all lengths and indexes count runes, embeds count 1.

type Attributes map[string]any

// exactly one of Insert, Retain, Delete is set.
// Insert is a string or an embed object (map[string]any).
type Op struct {
	Insert     any
	Retain     int
	Delete     int
	Attributes Attributes
}

func (self Op) Length() int {
	switch v := self.Insert.(type) {
	case string:
		return utf8.RuneCountInString(v)
	case nil:
	default:
		// embed
		return 1
	}
	if self.Retain > 0 {
		return self.Retain
	}
	return self.Delete
}

func (self Op) MarshalJSON() ([]byte, error) {
	m := map[string]any{}
	switch {
	case self.Insert != nil:
		m["insert"] = self.Insert
	case self.Retain > 0:
		m["retain"] = self.Retain
	case self.Delete > 0:
		m["delete"] = self.Delete
	default:
		return nil, fmt.Errorf("op must be one of insert, retain, delete")
	}
	if len(self.Attributes) > 0 && self.Delete == 0 {
		m["attributes"] = self.Attributes
	}
	return json.Marshal(m)
}

func (self *Op) UnmarshalJSON(src []byte) error {
	var aux struct {
		Insert     json.RawMessage `json:"insert"`
		Retain     *int            `json:"retain"`
		Delete     *int            `json:"delete"`
		Attributes Attributes      `json:"attributes"`
	}
	if err := json.Unmarshal(src, &aux); err != nil {
		return err
	}

	kinds := 0
	if aux.Insert != nil {
		kinds += 1
	}
	if aux.Retain != nil {
		kinds += 1
	}
	if aux.Delete != nil {
		kinds += 1
	}
	if kinds != 1 {
		return fmt.Errorf("op must be exactly one of insert, retain, delete")
	}

	*self = Op{Attributes: aux.Attributes}
	switch {
	case aux.Insert != nil:
		var s string
		if err := json.Unmarshal(aux.Insert, &s); err == nil {
			self.Insert = s
			return nil
		}
		var embed map[string]any
		if err := json.Unmarshal(aux.Insert, &embed); err == nil {
			self.Insert = embed
			return nil
		}
		return fmt.Errorf("insert must be a string or an embed object")
	case aux.Retain != nil:
		if *aux.Retain <= 0 {
			return fmt.Errorf("retain must be positive")
		}
		self.Retain = *aux.Retain
	case aux.Delete != nil:
		if *aux.Delete <= 0 {
			return fmt.Errorf("delete must be positive")
		}
		self.Delete = *aux.Delete
		self.Attributes = nil
	}
	return nil
}

type Delta struct {
	Ops []Op `json:"ops"`
}

func NewDelta() *Delta {
	return &Delta{
		Ops: []Op{},
	}
}

// builder surface, in the manner of the engine's fluent delta api

func (self *Delta) Retain(length int) *Delta {
	return self.RetainWithAttributes(length, nil)
}

func (self *Delta) RetainWithAttributes(length int, attributes Attributes) *Delta {
	if length <= 0 {
		return self
	}
	self.push(Op{Retain: length, Attributes: cloneAttributes(attributes)})
	return self
}

func (self *Delta) Insert(text string) *Delta {
	return self.InsertWithAttributes(text, nil)
}

func (self *Delta) InsertWithAttributes(text string, attributes Attributes) *Delta {
	if text == "" {
		return self
	}
	self.push(Op{Insert: text, Attributes: cloneAttributes(attributes)})
	return self
}

func (self *Delta) InsertEmbed(embed map[string]any, attributes Attributes) *Delta {
	if embed == nil {
		return self
	}
	self.push(Op{Insert: embed, Attributes: cloneAttributes(attributes)})
	return self
}

func (self *Delta) Delete(length int) *Delta {
	if length <= 0 {
		return self
	}
	self.push(Op{Delete: length})
	return self
}

// appends an op, merging adjacent string inserts with equal attributes
func (self *Delta) push(op Op) {
	if n := len(self.Ops); 0 < n {
		last := &self.Ops[n-1]
		if s, ok := op.Insert.(string); ok {
			if lastS, lastOk := last.Insert.(string); lastOk && attributesEqual(last.Attributes, op.Attributes) {
				last.Insert = lastS + s
				return
			}
		}
		if 0 < op.Retain && 0 < last.Retain && attributesEqual(last.Attributes, op.Attributes) {
			last.Retain += op.Retain
			return
		}
		if 0 < op.Delete && 0 < last.Delete {
			last.Delete += op.Delete
			return
		}
	}
	self.Ops = append(self.Ops, op)
}

func (self Delta) Length() int {
	length := 0
	for _, op := range self.Ops {
		length += op.Length()
	}
	return length
}

// concatenated string inserts. embeds contribute nothing.
func (self Delta) Text() string {
	var b strings.Builder
	for _, op := range self.Ops {
		if s, ok := op.Insert.(string); ok {
			b.WriteString(s)
		}
	}
	return b.String()
}

// the ops covering [index, index+length), attributes intact.
// partial runs are split. out of range is clamped.
func (self Delta) Slice(index int, length int) []Op {
	it := newOpIterator(self.Ops)
	for 0 < index && it.hasNext() {
		op := it.next(index)
		index -= op.Length()
	}
	ops := []Op{}
	for 0 < length && it.hasNext() {
		op := it.next(length)
		length -= op.Length()
		ops = append(ops, op)
	}
	return ops
}

// applies a change delta to this document delta and returns the new document.
// retain with attributes merges the attributes into the retained range,
// a nil attribute value removes the key. retain or delete past the end of the
// document is ignored.
func (self Delta) Apply(change Delta) Delta {
	out := NewDelta()
	docIt := newOpIterator(self.Ops)
	for _, cop := range change.Ops {
		switch {
		case cop.Insert != nil:
			out.push(Op{Insert: cop.Insert, Attributes: cloneAttributes(cop.Attributes)})
		case 0 < cop.Delete:
			remaining := cop.Delete
			for 0 < remaining && docIt.hasNext() {
				op := docIt.next(remaining)
				remaining -= op.Length()
			}
		case 0 < cop.Retain:
			remaining := cop.Retain
			for 0 < remaining && docIt.hasNext() {
				op := docIt.next(remaining)
				remaining -= op.Length()
				if cop.Attributes != nil {
					op.Attributes = mergeAttributes(op.Attributes, cop.Attributes)
				}
				out.push(op)
			}
		}
	}
	for docIt.hasNext() {
		out.push(docIt.next(-1))
	}
	return *out
}

// a document always ends with a trailing newline.
// an empty document is a single newline insert.
func (self Delta) Normalize() Delta {
	if len(self.Ops) == 0 {
		return Delta{Ops: []Op{{Insert: "\n"}}}
	}
	last := self.Ops[len(self.Ops)-1]
	if s, ok := last.Insert.(string); ok && strings.HasSuffix(s, "\n") {
		return self
	}
	out := Delta{Ops: append([]Op{}, self.Ops...)}
	out.Ops = append(out.Ops, Op{Insert: "\n"})
	return out
}

func (self Delta) Clone() Delta {
	ops := make([]Op, len(self.Ops))
	for i, op := range self.Ops {
		op.Attributes = cloneAttributes(op.Attributes)
		ops[i] = op
	}
	return Delta{Ops: ops}
}

// deep structural equality via the canonical json form,
// so that locally built ops and wire decoded ops compare equal
func DeltaEqual(a Delta, b Delta) bool {
	aJson, aErr := json.Marshal(a)
	bJson, bErr := json.Marshal(b)
	if aErr != nil || bErr != nil {
		return false
	}
	return bytes.Equal(aJson, bJson)
}

func attributesEqual(a Attributes, b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	aJson, aErr := json.Marshal(a)
	bJson, bErr := json.Marshal(b)
	if aErr != nil || bErr != nil {
		return false
	}
	return bytes.Equal(aJson, bJson)
}

func cloneAttributes(attributes Attributes) Attributes {
	if len(attributes) == 0 {
		return nil
	}
	out := Attributes{}
	for k, v := range attributes {
		out[k] = v
	}
	return out
}

// merges applied over base. a nil applied value removes the key.
// returns nil when nothing remains.
func mergeAttributes(base Attributes, applied Attributes) Attributes {
	out := cloneAttributes(base)
	if out == nil {
		out = Attributes{}
	}
	for k, v := range applied {
		if v == nil {
			delete(out, k)
		} else {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// iterates ops with rune granularity splits
type opIterator struct {
	ops    []Op
	index  int
	offset int
}

func newOpIterator(ops []Op) *opIterator {
	return &opIterator{
		ops: ops,
	}
}

func (self *opIterator) hasNext() bool {
	return self.index < len(self.ops)
}

// returns up to `length` of the current op, advancing the iterator.
// length < 0 takes the whole remainder of the current op.
func (self *opIterator) next(length int) Op {
	op := self.ops[self.index]
	opLength := op.Length() - self.offset
	if length < 0 || opLength <= length {
		// take the rest of the op
		out := self.slicedOp(op, self.offset, opLength)
		self.index += 1
		self.offset = 0
		return out
	}
	out := self.slicedOp(op, self.offset, length)
	self.offset += length
	return out
}

func (self *opIterator) slicedOp(op Op, offset int, length int) Op {
	out := Op{Attributes: cloneAttributes(op.Attributes)}
	switch v := op.Insert.(type) {
	case string:
		runes := []rune(v)
		out.Insert = string(runes[offset : offset+length])
	case nil:
		if 0 < op.Retain {
			out.Retain = length
		} else {
			out.Delete = length
			out.Attributes = nil
		}
	default:
		// embeds are length 1 and never split
		out.Insert = v
	}
	return out
}
