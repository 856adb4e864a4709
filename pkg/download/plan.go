package download

import (
	"errors"
	"fmt"
)

// ChunkSpec is one contiguous, inclusive byte range of a resource and the part file it
// is fetched into.
type ChunkSpec struct {
	Index    int
	Start    int64
	End      int64
	PartPath string
}

// Len is the number of bytes covered by the chunk.
func (c ChunkSpec) Len() int64 {
	return c.End - c.Start + 1
}

func partPath(dest string, index int) string {
	return fmt.Sprintf("%s.part%d", dest, index)
}

// ClampConnections limits the connection count so that no chunk is empty.
func ClampConnections(size int64, connections int) int {
	if size < 1 {
		return 1
	}
	if int64(connections) > size {
		return int(size)
	}
	return connections
}

// PlanChunks partitions [0, size-1] into ClampConnections(size, connections) ranges of
// size/connections bytes each, with the remainder absorbed by the last range.
func PlanChunks(size int64, connections int, dest string) ([]ChunkSpec, error) {
	if size < 1 {
		return nil, configError("plan", dest, fmt.Errorf("resource size must be positive, got %d", size))
	}
	if connections < 1 {
		return nil, configError("plan", dest, errors.New("connection count must be at least 1"))
	}
	connections = ClampConnections(size, connections)
	partSize := size / int64(connections)

	chunks := make([]ChunkSpec, connections)
	for i := range chunks {
		start := int64(i) * partSize
		end := start + partSize - 1
		if i == connections-1 {
			end = size - 1
		}
		chunks[i] = ChunkSpec{
			Index:    i,
			Start:    start,
			End:      end,
			PartPath: partPath(dest, i),
		}
	}
	return chunks, nil
}
