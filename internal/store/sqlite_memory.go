package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

func (s *SQLiteStore) AddMemory(sessionID, content string, vector []float32, meta map[string]string) error {
	vecBuf := new(bytes.Buffer)
	if err := binary.Write(vecBuf, binary.LittleEndian, vector); err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}

	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}

	query := `INSERT INTO memories (session_id, content, vector, metadata) VALUES (?, ?, ?, ?)`
	_, err = s.db.Exec(query, sessionID, content, vecBuf.Bytes(), metaJSON)
	return err
}

func (s *SQLiteStore) SearchMemory(queryVector []float32, limit int) ([]MemoryItem, error) {
	// Naive scan: load all, compute cosine, sort. Fine for a local archive
	// of digests (thousands, not millions).
	rows, err := s.db.Query(`SELECT session_id, content, vector, metadata FROM memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []MemoryItem
	for rows.Next() {
		var sessionID, content, metaJSON string
		var vecBlob []byte
		if err := rows.Scan(&sessionID, &content, &vecBlob, &metaJSON); err != nil {
			continue
		}

		vector := make([]float32, len(vecBlob)/4)
		if err := binary.Read(bytes.NewReader(vecBlob), binary.LittleEndian, &vector); err != nil {
			continue
		}

		var meta map[string]string
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			meta = nil
		}

		scored = append(scored, MemoryItem{
			SessionID:  sessionID,
			Content:    content,
			Metadata:   meta,
			Similarity: cosineSimilarity(queryVector, vector),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
