package module

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/andybalholm/brotli"
)

// Kind says how an artifact is run.
type Kind byte

const (
	KindScript Kind = 1
	KindModule Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindModule:
		return "module"
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}

// Artifact is compiled code ready to run on any bridge. A script keeps its
// source; a module holds the bundled async function that loads it.
type Artifact struct {
	Kind Kind
	Name string
	// Async is set for scripts that await at the top level and for every
	// module.
	Async bool
	Code  string
}

// Runnable returns code for an engine without native top-level await, and
// whether that code evaluates to a promise. Scripts that await at the top
// level are wrapped in an async function resolving to the value of their
// last expression statement.
func (a *Artifact) Runnable() (string, bool) {
	if a.Kind == KindModule {
		return a.Code, true
	}
	code := a.Code
	if a.Async {
		code = wrapTopLevelAwait(code, a.Name)
	}
	return code + sourceURL(a.Name), a.Async
}

// ErrMalformed is returned for artifact bytes that do not decode.
var ErrMalformed = errors.New("module: malformed artifact")

const (
	artifactVersion = 1

	flagCompressed = 1 << 0
	flagAsync      = 1 << 1

	maxArtifactCode = 256 * 1024 * 1024
)

var artifactMagic = [4]byte{'J', 'S', 'B', 'A'}

// Encode serializes the artifact. The layout is magic, version, flags,
// kind, the length-prefixed name, a CRC-32 of the payload and the payload.
func (a *Artifact) Encode(compress bool) ([]byte, error) {
	if a.Kind != KindScript && a.Kind != KindModule {
		return nil, fmt.Errorf("module: cannot encode artifact of kind %v", a.Kind)
	}
	payload := []byte(a.Code)
	var flags byte
	if a.Async {
		flags |= flagAsync
	}
	if compress {
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("module: compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("module: compress: %w", err)
		}
		payload = buf.Bytes()
		flags |= flagCompressed
	}

	out := make([]byte, 0, 16+len(a.Name)+len(payload))
	out = append(out, artifactMagic[:]...)
	out = append(out, artifactVersion, flags, byte(a.Kind))
	out = binary.AppendUvarint(out, uint64(len(a.Name)))
	out = append(out, a.Name...)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(payload))
	return append(out, payload...), nil
}

// DecodeArtifact parses bytes produced by Encode.
func DecodeArtifact(data []byte) (*Artifact, error) {
	if len(data) < 7 || !bytes.Equal(data[:4], artifactMagic[:]) {
		return nil, fmt.Errorf("%w: bad header", ErrMalformed)
	}
	if data[4] != artifactVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, data[4])
	}
	flags, kind := data[5], Kind(data[6])
	if kind != KindScript && kind != KindModule {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, kind)
	}
	rest := data[7:]
	n, sz := binary.Uvarint(rest)
	if sz <= 0 || n > uint64(len(rest)-sz) {
		return nil, fmt.Errorf("%w: bad name length", ErrMalformed)
	}
	rest = rest[sz:]
	name := string(rest[:n])
	rest = rest[n:]
	if len(rest) < 4 {
		return nil, fmt.Errorf("%w: truncated", ErrMalformed)
	}
	sum, payload := binary.BigEndian.Uint32(rest), rest[4:]
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrMalformed)
	}

	if flags&flagCompressed != 0 {
		r := brotli.NewReader(bytes.NewReader(payload))
		code, err := io.ReadAll(io.LimitReader(r, maxArtifactCode+1))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(code) > maxArtifactCode {
			return nil, fmt.Errorf("%w: code exceeds maximum size", ErrMalformed)
		}
		payload = code
	}
	return &Artifact{
		Kind:  kind,
		Name:  name,
		Async: flags&flagAsync != 0,
		Code:  string(payload),
	}, nil
}
