// Package safetensors reads and writes the safetensors tensor file format:
// an 8-byte little-endian header length, a JSON header, then raw tensor data.
package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// Supported dtypes.
const (
	F32 = "F32"
	F64 = "F64"
)

const metadataKey = "__metadata__"

// Tensor is a dense row-major tensor. Values are held as float64 regardless of
// the on-disk dtype.
type Tensor struct {
	Shape []int
	Data  []float64
}

// File is a decoded safetensors file.
type File struct {
	Tensors  map[string]Tensor
	Metadata map[string]string
}

type tensorMeta struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func dtypeSize(dtype string) (int, error) {
	switch dtype {
	case F32:
		return 4, nil
	case F64:
		return 8, nil
	}
	return 0, fmt.Errorf("safetensors: unsupported dtype %s", dtype)
}

// ReadFile decodes the safetensors file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: %w", err)
	}
	return Decode(data)
}

// Decode parses an in-memory safetensors file.
func Decode(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: file too small: %d bytes", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data))-8 < headerLen {
		return nil, fmt.Errorf("safetensors: header length %d exceeds file size", headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("safetensors: failed to parse header: %w", err)
	}

	f := &File{Tensors: make(map[string]Tensor, len(header))}
	base := int(8 + headerLen)
	for name, raw := range header {
		if name == metadataKey {
			if err := json.Unmarshal(raw, &f.Metadata); err != nil {
				return nil, fmt.Errorf("safetensors: failed to parse metadata: %w", err)
			}
			continue
		}

		var meta tensorMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("safetensors: tensor %s: failed to parse metadata: %w", name, err)
		}
		size, err := dtypeSize(meta.Dtype)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %s: %w", name, err)
		}

		n := numel(meta.Shape)
		start := base + meta.DataOffsets[0]
		end := base + meta.DataOffsets[1]
		if end-start != n*size {
			return nil, fmt.Errorf("safetensors: tensor %s: data size %d doesn't match shape %v", name, end-start, meta.Shape)
		}
		if start < base || end > len(data) {
			return nil, fmt.Errorf("safetensors: tensor %s: data range [%d:%d] exceeds file size %d", name, start, end, len(data))
		}

		values := make([]float64, n)
		buf := data[start:end]
		for i := range values {
			if meta.Dtype == F32 {
				values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
			} else {
				values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
			}
		}
		f.Tensors[name] = Tensor{Shape: append([]int(nil), meta.Shape...), Data: values}
	}
	return f, nil
}

// WriteFile encodes tensors with the given dtype and writes them to path.
func WriteFile(path string, f *File, dtype string) error {
	var buf bytes.Buffer
	if err := Encode(&buf, f, dtype); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("safetensors: %w", err)
	}
	return nil
}

// Encode writes f to w. Tensors are laid out in name order so the output is
// deterministic.
func Encode(w io.Writer, f *File, dtype string) error {
	size, err := dtypeSize(dtype)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(f.Metadata) > 0 {
		header[metadataKey] = f.Metadata
	}
	offset := 0
	for _, name := range names {
		t := f.Tensors[name]
		if numel(t.Shape) != len(t.Data) {
			return fmt.Errorf("safetensors: tensor %s: %d values for shape %v", name, len(t.Data), t.Shape)
		}
		n := len(t.Data) * size
		header[name] = tensorMeta{Dtype: dtype, Shape: t.Shape, DataOffsets: [2]int{offset, offset + n}}
		offset += n
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("safetensors: encode header: %w", err)
	}
	// Pad the header so the data section starts 8-byte aligned.
	for len(hdr)%8 != 0 {
		hdr = append(hdr, ' ')
	}

	out := make([]byte, 8+len(hdr)+offset)
	binary.LittleEndian.PutUint64(out, uint64(len(hdr)))
	copy(out[8:], hdr)
	pos := 8 + len(hdr)
	for _, name := range names {
		for _, v := range f.Tensors[name].Data {
			if dtype == F32 {
				binary.LittleEndian.PutUint32(out[pos:], math.Float32bits(float32(v)))
			} else {
				binary.LittleEndian.PutUint64(out[pos:], math.Float64bits(v))
			}
			pos += size
		}
	}
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("safetensors: %w", err)
	}
	return nil
}
