package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Attr is a single XML attribute. Attributes keep document order, which a Go
// map cannot express.
type Attr struct {
	Name  string
	Value string
}

// Node is the algebraic record for an XML subtree: tag name, ordered
// attributes, child elements and optional text. It is faithful enough to be
// reversible at the element-type level, but does not preserve source bytes.
type Node struct {
	Tag      string
	Attrs    []Attr
	Children []*Node
	Text     string
}

// Attr returns the value of the named attribute, or "" if absent.
func (n *Node) Attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

// FindAll returns the direct children with the given tag, in document order.
func (n *Node) FindAll(tag string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the first direct child with the given tag, or nil.
func (n *Node) Find(tag string) *Node {
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// FindText returns the text of the first direct child with the given tag.
func (n *Node) FindText(tag string) string {
	if c := n.Find(tag); c != nil {
		return c.Text
	}
	return ""
}

// MarshalJSON emits the node as a single-line JSON object with a fixed key
// order (tag, attrs, text, children) and attributes in document order. The
// stable ordering makes spool files reproducible across runs.
func (n *Node) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	if err := writeNode(&b, n); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func writeNode(b *bytes.Buffer, n *Node) error {
	b.WriteByte('{')
	b.WriteString(`"tag":`)
	writeJSONString(b, n.Tag)
	if len(n.Attrs) > 0 {
		b.WriteString(`,"attrs":{`)
		for i, a := range n.Attrs {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONString(b, a.Name)
			b.WriteByte(':')
			writeJSONString(b, a.Value)
		}
		b.WriteByte('}')
	}
	if n.Text != "" {
		b.WriteString(`,"text":`)
		writeJSONString(b, n.Text)
	}
	if len(n.Children) > 0 {
		b.WriteString(`,"children":[`)
		for i, c := range n.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeNode(b, c); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	}
	b.WriteByte('}')
	return nil
}

func writeJSONString(b *bytes.Buffer, s string) {
	enc, _ := json.Marshal(s)
	b.Write(enc)
}

// UnmarshalJSON rebuilds a Node from the encoding produced by MarshalJSON,
// preserving attribute order by reading the token stream directly.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	node, err := readNode(dec)
	if err != nil {
		return err
	}
	*n = *node
	return nil
}

func readNode(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("node: expected object, got %v", tok)
	}

	n := &Node{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("node: expected key, got %v", keyTok)
		}
		switch key {
		case "tag":
			if err := decodeString(dec, &n.Tag); err != nil {
				return nil, err
			}
		case "text":
			if err := decodeString(dec, &n.Text); err != nil {
				return nil, err
			}
		case "attrs":
			if err := readAttrs(dec, n); err != nil {
				return nil, err
			}
		case "children":
			if err := readChildren(dec, n); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("node: unexpected key %q", key)
		}
	}
	// Consume closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return n, nil
}

func decodeString(dec *json.Decoder, dst *string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	s, ok := tok.(string)
	if !ok {
		return fmt.Errorf("node: expected string, got %v", tok)
	}
	*dst = s
	return nil
}

func readAttrs(dec *json.Decoder, n *Node) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("node: expected attrs object, got %v", tok)
	}
	for dec.More() {
		var name, value string
		if err := decodeString(dec, &name); err != nil {
			return err
		}
		if err := decodeString(dec, &value); err != nil {
			return err
		}
		n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
	}
	_, err = dec.Token()
	return err
}

func readChildren(dec *json.Decoder, n *Node) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return fmt.Errorf("node: expected children array, got %v", tok)
	}
	for dec.More() {
		child, err := readNode(dec)
		if err != nil {
			return err
		}
		n.Children = append(n.Children, child)
	}
	_, err = dec.Token()
	return err
}

// MarshalNodes serializes a slice of nodes as a single-line JSON array.
// A nil or empty slice returns "", which the row encoder maps to SQL null.
func MarshalNodes(nodes []*Node) (string, error) {
	if len(nodes) == 0 {
		return "", nil
	}
	var b bytes.Buffer
	b.WriteByte('[')
	for i, n := range nodes {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeNode(&b, n); err != nil {
			return "", err
		}
	}
	b.WriteByte(']')
	return b.String(), nil
}

// UnmarshalNodes rebuilds a node slice from a JSON array produced by
// MarshalNodes.
func UnmarshalNodes(data string) ([]*Node, error) {
	if data == "" {
		return nil, nil
	}
	var nodes []*Node
	if err := json.Unmarshal([]byte(data), &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}
