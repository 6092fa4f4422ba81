// Package archive renders in-memory tar.gz archives. Space exports and
// backup downloads return these inline, base64-encoded, so agents can pull a
// whole space through a single tool call.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
)

// Entry is one file in an archive. Name is the path inside the tarball.
type Entry struct {
	Name    string
	Content []byte
}

// TarGz writes entries into a gzip-compressed tarball held in memory.
func TarGz(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{
			Name: e.Name,
			Mode: 0o644,
			Size: int64(len(e.Content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("failed to write tar header for %q: %w", e.Name, err)
		}
		if _, err := tw.Write(e.Content); err != nil {
			return nil, fmt.Errorf("failed to write tar entry %q: %w", e.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}

// TarGzBase64 returns the archive base64-encoded along with its raw byte
// size.
func TarGzBase64(entries []Entry) (string, int, error) {
	raw, err := TarGz(entries)
	if err != nil {
		return "", 0, err
	}
	return base64.StdEncoding.EncodeToString(raw), len(raw), nil
}
