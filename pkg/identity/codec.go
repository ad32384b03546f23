package identity

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// maxEmbeddingFileSize bounds embedding and capture files.
const maxEmbeddingFileSize = 1024 * 1024

// EncodeEmbedding serialises an embedding as little-endian float64 values,
// the layout stored in the users table.
func EncodeEmbedding(e Embedding) []byte {
	buf := make([]byte, 8*len(e))
	for i, v := range e {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DecodeEmbedding parses the output of EncodeEmbedding.
func DecodeEmbedding(b []byte) (Embedding, error) {
	if len(b) == 0 || len(b)%8 != 0 {
		return nil, fmt.Errorf("%w: encoded length %d is not a multiple of 8", ErrInvalidEmbedding, len(b))
	}
	e := make(Embedding, len(b)/8)
	for i := range e {
		e[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// embeddingDoc accepts either a bare list or {embedding: [...]}.
type embeddingDoc struct {
	Embedding []float64 `yaml:"embedding"`
}

// ParseEmbedding reads an embedding from YAML or JSON text. Both a bare
// sequence of numbers and a mapping with an "embedding" key are accepted.
func ParseEmbedding(data []byte) (Embedding, error) {
	var list []float64
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		e := Embedding(list)
		return e, e.Validate()
	}

	var doc embeddingDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEmbedding, err)
	}
	e := Embedding(doc.Embedding)
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadEmbeddingFile reads an embedding written by the capture tool.
func LoadEmbeddingFile(path string) (Embedding, error) {
	data, err := readEmbeddingFile(path)
	if err != nil {
		return nil, err
	}
	return ParseEmbedding(data)
}

// captureDoc is a recorded capture: per frame, the embeddings of every
// face found in it.
type captureDoc struct {
	Frames [][][]float64 `yaml:"frames"`
}

// ParseCapture reads a recorded capture from YAML or JSON text, in frame
// order. A frame may hold no faces.
func ParseCapture(data []byte) ([]Sample, error) {
	var doc captureDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEmbedding, err)
	}
	if len(doc.Frames) == 0 {
		return nil, fmt.Errorf("%w: capture has no frames", ErrInvalidEmbedding)
	}

	samples := make([]Sample, 0, len(doc.Frames))
	for i, faces := range doc.Frames {
		s := Sample{Frame: i}
		for _, f := range faces {
			e := Embedding(f)
			if err := e.Validate(); err != nil {
				return nil, fmt.Errorf("frame %d: %w", i, err)
			}
			s.Embeddings = append(s.Embeddings, e)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// LoadCaptureFile reads a capture recorded by the capture tool.
func LoadCaptureFile(path string) ([]Sample, error) {
	data, err := readEmbeddingFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCapture(data)
}

func readEmbeddingFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("identity: failed to stat embedding file: %w", err)
	}
	if info.Size() > maxEmbeddingFileSize {
		return nil, fmt.Errorf("%w: file too large (%d bytes)", ErrInvalidEmbedding, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: failed to read embedding file: %w", err)
	}
	return data, nil
}
