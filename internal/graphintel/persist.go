package graphintel

import (
	"encoding/json"

	"slm-core/internal/apperrors"
	"slm-core/internal/domain"
)

// persist replaces all GraphNode/GraphEdge/Cluster rows for profile in one
// transaction (§4.5: "atomic, replacing all ... rows"; §5: "builds ...
// swap in a final commit step; readers see either the previous or new
// graph, never a mix"). A failed build never reaches this far, so the
// previous graph is left intact by construction (§4.5 failure semantics).
func (b *Builder) persist(profile string, nodes []domain.GraphNode, edges []domain.GraphEdge, clusters []*clusterBuild) error {
	tx, err := b.db.Begin()
	if err != nil {
		return apperrors.IO(err, "begin graph persist")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM graph_nodes WHERE profile = ?`, profile); err != nil {
		return apperrors.IO(err, "clear graph_nodes")
	}
	if _, err := tx.Exec(`DELETE FROM graph_edges WHERE profile = ?`, profile); err != nil {
		return apperrors.IO(err, "clear graph_edges")
	}
	if _, err := tx.Exec(`DELETE FROM clusters WHERE profile = ?`, profile); err != nil {
		return apperrors.IO(err, "clear clusters")
	}
	if _, err := tx.Exec(`UPDATE notes SET cluster_id = NULL WHERE profile = ?`, profile); err != nil {
		return apperrors.IO(err, "clear note cluster assignments")
	}

	for _, n := range nodes {
		entitiesJSON, err := json.Marshal(n.Entities)
		if err != nil {
			return apperrors.Internal("marshal entities: %v", err)
		}
		if _, err := tx.Exec(`INSERT INTO graph_nodes (memory_id, profile, entities) VALUES (?, ?, ?)`,
			n.MemoryID, profile, string(entitiesJSON)); err != nil {
			return apperrors.IO(err, "insert graph_node")
		}
	}

	for _, e := range edges {
		if e.Source >= e.Target {
			return apperrors.Internal("edge canonicalization violated: %d >= %d", e.Source, e.Target)
		}
		sharedJSON, err := json.Marshal(e.SharedEntities)
		if err != nil {
			return apperrors.Internal("marshal shared_entities: %v", err)
		}
		if _, err := tx.Exec(`INSERT INTO graph_edges
			(profile, source_memory_id, target_memory_id, similarity, relationship_type, shared_entities)
			VALUES (?, ?, ?, ?, ?, ?)`,
			profile, e.Source, e.Target, e.Similarity, e.RelationshipType, string(sharedJSON)); err != nil {
			return apperrors.IO(err, "insert graph_edge")
		}
	}

	// Clusters are produced parent-before-child by detectHierarchical, so
	// by the time we reach a child its parent already has a real id.
	for _, cb := range clusters {
		var parentID any
		if cb.parent != nil {
			parentID = cb.parent.cluster.ID
		}
		topEntitiesJSON, err := json.Marshal(cb.cluster.TopEntities)
		if err != nil {
			return apperrors.Internal("marshal top_entities: %v", err)
		}
		res, err := tx.Exec(`INSERT INTO clusters
			(profile, cluster_name, description, memory_count, avg_importance, top_entities, summary, parent_cluster_id, depth)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			profile, cb.cluster.ClusterName, cb.cluster.Description, cb.cluster.MemberCount,
			cb.cluster.AvgImportance, string(topEntitiesJSON), cb.cluster.Summary, parentID, cb.cluster.Depth)
		if err != nil {
			return apperrors.IO(err, "insert cluster")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return apperrors.IO(err, "read cluster id")
		}
		cb.cluster.ID = id
		if cb.cluster.ClusterName == "" {
			FinalizeName(&cb.cluster)
			if _, err := tx.Exec(`UPDATE clusters SET cluster_name = ? WHERE id = ?`, cb.cluster.ClusterName, id); err != nil {
				return apperrors.IO(err, "finalize cluster name")
			}
		}

		if !cb.hasChildren {
			for _, memberID := range cb.members {
				if _, err := tx.Exec(`UPDATE notes SET cluster_id = ? WHERE id = ? AND profile = ?`, id, memberID, profile); err != nil {
					return apperrors.IO(err, "assign note cluster_id")
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.IO(err, "commit graph persist")
	}
	return nil
}
