package vector

import (
	"fmt"
	"sort"

	jsonx "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/shared/json"
)

// On-disk layout of the index, stored as one encrypted frame. Connections
// are encoded as [layer, [neighborId, ...]] pairs with one pair per layer,
// empty layers included, so node levels survive the round trip.
type persistedIndex struct {
	EntryPointID string          `json:"entryPointId"`
	MaxLayer     int             `json:"maxLayer"`
	Nodes        []persistedNode `json:"nodes"`
	Config       persistedConfig `json:"config"`
}

type persistedNode struct {
	ID          string            `json:"id"`
	Vector      []float32         `json:"vector"`
	Text        string            `json:"text"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Connections []layerEdges      `json:"connections"`
}

type persistedConfig struct {
	M              int `json:"m"`
	EfConstruction int `json:"efConstruction"`
	EfSearch       int `json:"efSearch"`
}

// layerEdges serializes as a two-element array: [layer, [ids...]].
type layerEdges struct {
	Layer     int
	Neighbors []string
}

func (le layerEdges) MarshalJSON() ([]byte, error) {
	neighbors := le.Neighbors
	if neighbors == nil {
		neighbors = []string{}
	}
	return jsonx.Marshal([2]any{le.Layer, neighbors})
}

func (le *layerEdges) UnmarshalJSON(data []byte) error {
	var raw [2]jsonx.RawMessage
	if err := jsonx.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("layer edges: %w", err)
	}
	if err := jsonx.Unmarshal(raw[0], &le.Layer); err != nil {
		return fmt.Errorf("layer edges layer: %w", err)
	}
	if err := jsonx.Unmarshal(raw[1], &le.Neighbors); err != nil {
		return fmt.Errorf("layer edges neighbors: %w", err)
	}
	return nil
}

// persistLocked serializes the whole graph and writes it as one encrypted
// frame. Caller must hold the write lock.
func (h *HNSW) persistLocked() error {
	if h.config.PersistPath == "" {
		return nil
	}

	doc := persistedIndex{
		EntryPointID: h.entryPoint,
		MaxLayer:     h.maxLayer,
		Nodes:        make([]persistedNode, 0, len(h.nodes)),
		Config: persistedConfig{
			M:              h.config.M,
			EfConstruction: h.config.EfConstruction,
			EfSearch:       h.config.EfSearch,
		},
	}

	for _, n := range h.nodes {
		pn := persistedNode{
			ID:          n.id,
			Vector:      n.vector,
			Text:        n.content,
			Metadata:    n.metadata,
			Connections: make([]layerEdges, n.level+1),
		}
		for layer := 0; layer <= n.level; layer++ {
			pn.Connections[layer] = layerEdges{Layer: layer, Neighbors: n.conns[layer]}
		}
		doc.Nodes = append(doc.Nodes, pn)
	}
	// Deterministic output keeps encrypted snapshots diffable after decrypt.
	sort.Slice(doc.Nodes, func(i, j int) bool { return doc.Nodes[i].ID < doc.Nodes[j].ID })

	data, err := jsonx.Marshal(doc)
	if err != nil {
		return fmt.Errorf("serialize index: %w", err)
	}
	return h.sec.WriteFile(h.indexPath(), indexFileName, data)
}

// load restores the graph from disk. A missing file leaves the index empty.
func (h *HNSW) load() error {
	if h.config.PersistPath == "" {
		return nil
	}
	data, err := h.sec.ReadFile(h.indexPath(), indexFileName)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	if data == nil {
		return nil
	}

	var doc persistedIndex
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse index: %w", err)
	}

	h.nodes = make(map[string]*hnswNode, len(doc.Nodes))
	for _, pn := range doc.Nodes {
		level := len(pn.Connections) - 1
		if level < 0 {
			level = 0
		}
		n := &hnswNode{
			id:       pn.ID,
			vector:   pn.Vector,
			content:  pn.Text,
			metadata: pn.Metadata,
			level:    level,
			conns:    make([][]string, level+1),
		}
		for _, le := range pn.Connections {
			if le.Layer < 0 || le.Layer > level {
				return fmt.Errorf("parse index: node %s has connections at layer %d beyond level %d", pn.ID, le.Layer, level)
			}
			n.conns[le.Layer] = le.Neighbors
		}
		h.nodes[n.id] = n
		if h.dims == 0 {
			h.dims = len(pn.Vector)
		}
	}

	h.entryPoint = doc.EntryPointID
	h.maxLayer = doc.MaxLayer

	// The graph was shaped by the persisted construction parameters; the
	// query-time beam width stays a runtime knob.
	if doc.Config.M > 0 {
		h.config.M = doc.Config.M
	}
	if doc.Config.EfConstruction > 0 {
		h.config.EfConstruction = doc.Config.EfConstruction
	}

	if h.entryPoint != "" {
		if _, ok := h.nodes[h.entryPoint]; !ok {
			return fmt.Errorf("parse index: entry point %s not among nodes", h.entryPoint)
		}
	}
	return nil
}
