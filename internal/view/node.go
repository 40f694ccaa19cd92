// Package view turns the guest's serialized view tree into an HTML element
// tree and routes UI events back into the guest.
package view

// Node is one node of a view tree: Text, Input, Div or Button.
type Node interface {
	isNode()
}

// Attribute is a key/value pair. Order is significant.
type Attribute struct {
	Key   string
	Value string
}

// Text is a literal text node.
type Text struct {
	Content string
}

// Input is an input element.
type Input struct {
	Attributes []Attribute
}

// Div is a container element.
type Div struct {
	Attributes []Attribute
	Children   []Node
}

// Button is a button element.
type Button struct {
	Attributes []Attribute
	Children   []Node
}

func (Text) isNode()   {}
func (Input) isNode()  {}
func (Div) isNode()    {}
func (Button) isNode() {}
