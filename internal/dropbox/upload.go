package dropbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// FileMetadata is the subset of upload results the application reports.
type FileMetadata struct {
	Name        string `json:"name"`
	PathDisplay string `json:"path_display"`
	Size        int64  `json:"size"`
	Rev         string `json:"rev"`
}

type commitInfo struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Mute bool   `json:"mute"`
}

type uploadCursor struct {
	SessionID string `json:"session_id"`
	Offset    int64  `json:"offset"`
}

// Upload writes size bytes from r to path, overwriting any existing file.
// Files larger than the chunk size are sent through an upload session.
func (c *Client) Upload(ctx context.Context, r io.Reader, size int64, path string) (*FileMetadata, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid upload size %d", size)
	}
	commit := commitInfo{Path: path, Mode: "overwrite", Mute: true}

	if size <= int64(c.chunkSize) {
		body, err := readChunk(r, int(size))
		if err != nil {
			return nil, err
		}
		var meta FileMetadata
		if err := c.content(ctx, "/2/files/upload", commit, body, &meta); err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "uploaded file", "path", meta.PathDisplay, "bytes", size)
		return &meta, nil
	}

	return c.uploadSession(ctx, r, size, commit)
}

func (c *Client) uploadSession(ctx context.Context, r io.Reader, size int64, commit commitInfo) (*FileMetadata, error) {
	first, err := readChunk(r, c.chunkSize)
	if err != nil {
		return nil, err
	}

	var started struct {
		SessionID string `json:"session_id"`
	}
	if err := c.content(ctx, "/2/files/upload_session/start", map[string]bool{"close": false}, first, &started); err != nil {
		return nil, err
	}
	cursor := uploadCursor{SessionID: started.SessionID, Offset: int64(len(first))}
	slog.DebugContext(ctx, "upload session started", "bytes", size)

	for {
		remaining := size - cursor.Offset
		n := int64(c.chunkSize)
		if remaining < n {
			n = remaining
		}
		chunk, err := readChunk(r, int(n))
		if err != nil {
			return nil, err
		}

		if remaining <= int64(c.chunkSize) {
			arg := struct {
				Cursor uploadCursor `json:"cursor"`
				Commit commitInfo   `json:"commit"`
			}{Cursor: cursor, Commit: commit}

			var meta FileMetadata
			if err := c.content(ctx, "/2/files/upload_session/finish", arg, chunk, &meta); err != nil {
				return nil, err
			}
			slog.InfoContext(ctx, "uploaded file", "path", meta.PathDisplay, "bytes", size)
			return &meta, nil
		}

		arg := struct {
			Cursor uploadCursor `json:"cursor"`
			Close  bool         `json:"close"`
		}{Cursor: cursor}
		if err := c.content(ctx, "/2/files/upload_session/append_v2", arg, chunk, nil); err != nil {
			return nil, err
		}
		cursor.Offset += int64(len(chunk))
		slog.DebugContext(ctx, "upload progress", "offset", cursor.Offset, "bytes", size)
	}
}

func readChunk(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("source ended before declared size: %w", err)
		}
		return nil, fmt.Errorf("reading upload source: %w", err)
	}
	return buf, nil
}
