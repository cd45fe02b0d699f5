package model

import (
	"reflect"
	"testing"
)

func sampleNode() *Node {
	return &Node{
		Tag: "comment",
		Attrs: []Attr{
			{Name: "type", Value: "function"},
			{Name: "evidence", Value: "1 2"},
		},
		Children: []*Node{
			{
				Tag:  "text",
				Text: "Binds heme and shuttles electrons.",
			},
			{
				Tag:   "location",
				Attrs: []Attr{{Name: "sequence", Value: "P11111-2"}},
			},
		},
	}
}

func TestNodeMarshalStableOrder(t *testing.T) {
	n := sampleNode()

	want := `{"tag":"comment","attrs":{"type":"function","evidence":"1 2"},` +
		`"children":[{"tag":"text","text":"Binds heme and shuttles electrons."},` +
		`{"tag":"location","attrs":{"sequence":"P11111-2"}}]}`

	for i := 0; i < 5; i++ {
		got, err := n.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON: %v", err)
		}
		if string(got) != want {
			t.Fatalf("MarshalJSON:\n got %s\nwant %s", got, want)
		}
	}
}

func TestNodeRoundTrip(t *testing.T) {
	n := sampleNode()
	data, err := n.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var back Node
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if !reflect.DeepEqual(n, &back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", &back, n)
	}
}

func TestMarshalNodesEmpty(t *testing.T) {
	got, err := MarshalNodes(nil)
	if err != nil {
		t.Fatalf("MarshalNodes(nil): %v", err)
	}
	if got != "" {
		t.Errorf("MarshalNodes(nil) = %q, want empty", got)
	}
}

func TestMarshalNodesRoundTrip(t *testing.T) {
	nodes := []*Node{
		{Tag: "evidence", Attrs: []Attr{{Name: "key", Value: "1"}, {Name: "type", Value: "ECO:0000269"}}},
		{Tag: "evidence", Attrs: []Attr{{Name: "key", Value: "2"}, {Name: "type", Value: "ECO:0000305"}}},
	}
	data, err := MarshalNodes(nodes)
	if err != nil {
		t.Fatalf("MarshalNodes: %v", err)
	}
	back, err := UnmarshalNodes(data)
	if err != nil {
		t.Fatalf("UnmarshalNodes: %v", err)
	}
	if !reflect.DeepEqual(nodes, back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, nodes)
	}
}

func TestMarshalNodesSingleLine(t *testing.T) {
	n := &Node{Tag: "text", Text: "line one\nline two"}
	data, err := MarshalNodes([]*Node{n})
	if err != nil {
		t.Fatalf("MarshalNodes: %v", err)
	}
	for _, c := range data {
		if c == '\n' {
			t.Fatal("serialized payload must be single-line")
		}
	}
}

func TestNodeAccessors(t *testing.T) {
	n := sampleNode()
	if got := n.Attr("type"); got != "function" {
		t.Errorf("Attr(type) = %q", got)
	}
	if got := n.Attr("missing"); got != "" {
		t.Errorf("Attr(missing) = %q, want empty", got)
	}
	if got := n.FindText("text"); got != "Binds heme and shuttles electrons." {
		t.Errorf("FindText(text) = %q", got)
	}
	if n.Find("location") == nil {
		t.Error("Find(location) = nil")
	}
	if got := len(n.FindAll("text")); got != 1 {
		t.Errorf("FindAll(text) returned %d nodes", got)
	}
}
