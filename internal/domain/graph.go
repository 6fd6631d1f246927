package domain

import "time"

// Entity is one retained term for a Note after TF-IDF scoring (§4.4).
type Entity struct {
	Term   string
	Weight float64
}

// GraphNode is the per-Note row materialized by a graph build. The node
// set is replaced wholesale on every build; orphaned nodes are removed
// when their Note is deleted.
type GraphNode struct {
	MemoryID int64
	Entities []Entity // ordered, highest weight first, len <= K
}

// GraphEdge is an undirected similarity relation with a canonical
// orientation: Source < Target, never a self-loop.
type GraphEdge struct {
	Source          int64
	Target          int64
	Similarity      float64
	RelationshipType string
	SharedEntities  []string
}

// Cluster is a named community of Notes discovered by community detection.
type Cluster struct {
	ID              int64
	Profile         string
	ClusterName     string
	Description     string
	MemberCount     int
	AvgImportance   float64
	TopEntities     []string
	Summary         string
	ParentClusterID *int64
	Depth           int
}

// BuildStats summarizes one graph build run (C5 §4.5).
type BuildStats struct {
	Profile        string
	NoteCount      int
	EdgeCount      int
	ClusterCount   int
	MaxClusterDepth int
	Duration       time.Duration
	Degraded       bool // true when community detection fell back to connected components
	Cancelled      bool
}

// Hit is one ranked hybrid-search result (§4.6).
type Hit struct {
	Note    Note
	Score   float64
	Sources []string // subset of {"keyword", "term", "graph"}
}
