package client

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sort"

	"github.com/richinsley/comfyrunner/graphapi"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// pngChunk is one length-type-data-crc record of a PNG stream; the CRC is not checked
type pngChunk struct {
	kind string
	data []byte
}

// readPngChunk reads the next chunk.  Only tEXt payloads are kept in memory.
func readPngChunk(r io.Reader) (pngChunk, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return pngChunk{}, err
	}
	length := binary.BigEndian.Uint32(header[:4])
	chunk := pngChunk{kind: string(header[4:])}

	if chunk.kind == "tEXt" {
		chunk.data = make([]byte, length)
		if _, err := io.ReadFull(r, chunk.data); err != nil {
			return pngChunk{}, err
		}
	} else if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
		return pngChunk{}, err
	}
	if _, err := io.CopyN(io.Discard, r, 4); err != nil {
		return pngChunk{}, err
	}
	return chunk, nil
}

// GetPngMetadata returns the tEXt chunks of a PNG keyed by keyword.  ComfyUI stores the
// executed API-format graph under "prompt" and the editor graph under "workflow".
func GetPngMetadata(r io.Reader) (map[string]string, error) {
	signature := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(r, signature); err != nil {
		return nil, err
	}
	if !bytes.Equal(signature, pngSignature) {
		return nil, errors.New("not a valid PNG file")
	}

	retv := make(map[string]string)
	for {
		chunk, err := readPngChunk(r)
		if errors.Is(err, io.EOF) {
			return retv, nil
		}
		if err != nil {
			return nil, err
		}
		switch chunk.kind {
		case "tEXt":
			keyword, text, ok := bytes.Cut(chunk.data, []byte{0})
			if !ok {
				return nil, errors.New("malformed tEXt chunk")
			}
			retv[string(keyword)] = string(text)
		case "IEND":
			return retv, nil
		}
	}
}

// NewWorkflowFromPNGReader extracts the API-format workflow ComfyUI embedded in a generated PNG
func NewWorkflowFromPNGReader(r io.Reader) (graphapi.Workflow, error) {
	metadata, err := GetPngMetadata(r)
	if err != nil {
		return nil, err
	}

	prompt, ok := metadata["prompt"]
	if !ok {
		if _, hasUI := metadata["workflow"]; hasUI {
			return nil, graphapi.ErrUIFormatWorkflow
		}
		return nil, errors.New("png does not contain workflow metadata")
	}
	return graphapi.NewWorkflowFromJsonString(prompt)
}

// NewWorkflowFromPNGFile extracts the API-format workflow from a PNG file
func NewWorkflowFromPNGFile(path string) (graphapi.Workflow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return NewWorkflowFromPNGReader(file)
}

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
