package graph

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed definition.schema.json
var definitionSchema []byte

type (
	// Definition is a named workflow as stored and submitted: a graph plus
	// display metadata. The JSON form mirrors the editor wire format where
	// node and edge payloads live under "data".
	Definition struct {
		Name        string
		Description string
		Graph       *Graph
	}

	wireDefinition struct {
		Name        string     `json:"name"`
		Description string     `json:"description"`
		Nodes       []wireNode `json:"nodes"`
		Edges       []wireEdge `json:"edges"`
	}

	wireNode struct {
		ID   string `json:"id"`
		Type Kind   `json:"type"`
		Data Config `json:"data"`
	}

	wireEdge struct {
		ID        string `json:"id"`
		Source    string `json:"source"`
		Target    string `json:"target"`
		Condition string `json:"condition"`
		Data      struct {
			Condition string `json:"condition"`
		} `json:"data"`
	}
)

// DecodeDefinition validates doc against the definition schema and decodes it
// into a Definition. Structural constraints beyond the schema (unknown edge
// endpoints, cycles, node limits) are the planner's to enforce.
func DecodeDefinition(doc []byte) (*Definition, error) {
	if err := validateDefinitionSchema(doc); err != nil {
		return nil, err
	}
	var wire wireDefinition
	if err := json.Unmarshal(doc, &wire); err != nil {
		return nil, fmt.Errorf("decode workflow definition: %w", err)
	}
	g := &Graph{
		Nodes: make([]Node, 0, len(wire.Nodes)),
		Edges: make([]Edge, 0, len(wire.Edges)),
	}
	for _, n := range wire.Nodes {
		g.Nodes = append(g.Nodes, Node{ID: n.ID, Kind: n.Type, Config: n.Data})
	}
	for _, e := range wire.Edges {
		cond := e.Condition
		if cond == "" {
			cond = e.Data.Condition
		}
		g.Edges = append(g.Edges, Edge{Source: e.Source, Target: e.Target, Condition: cond})
	}
	return &Definition{Name: wire.Name, Description: wire.Description, Graph: g}, nil
}

// EncodeDefinition renders d back to its JSON wire form. Node and edge order
// is preserved so the output is stable for a given definition.
func EncodeDefinition(d *Definition) ([]byte, error) {
	wire := wireDefinition{
		Name:        d.Name,
		Description: d.Description,
		Nodes:       make([]wireNode, 0, len(d.Graph.Nodes)),
		Edges:       make([]wireEdge, 0, len(d.Graph.Edges)),
	}
	for _, n := range d.Graph.Nodes {
		wire.Nodes = append(wire.Nodes, wireNode{ID: n.ID, Type: n.Kind, Data: n.Config})
	}
	for _, e := range d.Graph.Edges {
		we := wireEdge{Source: e.Source, Target: e.Target}
		we.Data.Condition = e.Condition
		wire.Edges = append(wire.Edges, we)
	}
	return json.Marshal(wire)
}

// validateDefinitionSchema checks doc against the embedded JSON Schema.
func validateDefinitionSchema(doc []byte) error {
	compiler := jsonschema.NewCompiler()
	var schemaDoc any
	if err := json.Unmarshal(definitionSchema, &schemaDoc); err != nil {
		return fmt.Errorf("invalid definition schema: %w", err)
	}
	if err := compiler.AddResource("definition.schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add definition schema resource: %w", err)
	}
	compiled, err := compiler.Compile("definition.schema.json")
	if err != nil {
		return fmt.Errorf("compile definition schema: %w", err)
	}
	var payload any
	if err := json.Unmarshal(doc, &payload); err != nil {
		return fmt.Errorf("decode workflow definition: %w", err)
	}
	if err := compiled.Validate(payload); err != nil {
		return fmt.Errorf("workflow definition does not conform to schema: %w", err)
	}
	return nil
}
