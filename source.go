package tokenizers

import (
	"bytes"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/wippyai/go-tokenizers/errors"
)

// SourceKind says how a tokenizer was constructed.
type SourceKind string

const (
	SourcePretrained SourceKind = "pretrained"
	SourceFile       SourceKind = "file"
	SourceBytes      SourceKind = "bytes"
)

// Source describes where a tokenizer's definition came from.
type Source struct {
	Kind     SourceKind
	Name     string // pretrained model identifier
	Revision string // pretrained revision, "main" when unset
	Path     string // definition file
	// Digest is the hex BLAKE3-256 of the uncompressed definition, when the
	// bytes passed through the binding.
	Digest string
}

func (s Source) String() string {
	switch s.Kind {
	case SourcePretrained:
		return s.Name + "@" + s.Revision
	case SourceFile:
		return s.Path
	default:
		if len(s.Digest) >= 12 {
			return "bytes:" + s.Digest[:12]
		}
		return "bytes"
	}
}

// Digest returns the hex BLAKE3-256 of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// maxDefinitionSize bounds decompressed definitions.
const maxDefinitionSize = 1 << 30

// compression returns the codec implied by a file extension, or "".
func compression(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return "gzip"
	case ".zst", ".zstd":
		return "zstd"
	case ".lz4":
		return "lz4"
	default:
		return ""
	}
}

// readDefinition reads and decompresses a compressed definition file.
func readDefinition(path, codec string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseMarshal, errors.KindConstruction).
			Op("read definition").
			Subject("%s", path).
			Cause(err).
			Build()
	}
	data, err := decompress(raw, codec)
	if err != nil {
		return nil, errors.New(errors.PhaseMarshal, errors.KindConstruction).
			Op("decompress definition").
			Subject("%s", path).
			Detail("%s stream is corrupt", codec).
			Cause(err).
			Build()
	}
	return data, nil
}

func decompress(raw []byte, codec string) ([]byte, error) {
	var r io.Reader
	switch codec {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case "lz4":
		r = lz4.NewReader(bytes.NewReader(raw))
	default:
		return raw, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, maxDefinitionSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDefinitionSize {
		return nil, errors.InvalidInput(errors.PhaseMarshal, "definition exceeds 1GiB when decompressed")
	}
	return data, nil
}
