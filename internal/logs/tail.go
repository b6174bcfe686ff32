package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	pollInterval = 250 * time.Millisecond
	maxLineBytes = 1024 * 1024
)

// Query selects which lines Tail returns.
type Query struct {
	// Offset is the byte position to resume from. Negative values read the
	// last Limit lines instead.
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	// Match keeps only lines containing the substring.
	Match string
}

// Chunk is a batch of log lines and the offset to resume from.
type Chunk struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from the log at path. A missing file yields an empty chunk
// at offset zero.
func Tail(ctx context.Context, path string, q Query) (Chunk, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Chunk{}, nil
	}
	if err != nil {
		return Chunk{Offset: q.Offset}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return Chunk{Offset: q.Offset}, fmt.Errorf("log path %q is a directory", path)
	}

	var chunk Chunk
	if q.Offset < 0 {
		chunk, err = lastLines(path, q.Limit, q.Match)
	} else {
		offset := q.Offset
		if offset > info.Size() {
			// The file was truncated or replaced since the last read.
			offset = info.Size()
		}
		chunk, err = readFrom(path, offset, q.Match)
	}
	if err != nil || len(chunk.Lines) > 0 || !q.Follow || q.Wait <= 0 {
		return chunk, err
	}
	return follow(ctx, path, chunk.Offset, q)
}

func lastLines(path string, limit int, match string) (Chunk, error) {
	if limit <= 0 {
		info, err := os.Stat(path)
		if err != nil {
			return Chunk{}, fmt.Errorf("stat log file: %w", err)
		}
		return Chunk{Offset: info.Size()}, nil
	}
	ring := make([]string, 0, limit)
	start := 0
	offset, err := scan(path, 0, func(line string) {
		if !matches(line, match) {
			return
		}
		if len(ring) < limit {
			ring = append(ring, line)
			return
		}
		ring[start] = line
		start = (start + 1) % limit
	})
	if err != nil {
		return Chunk{}, err
	}
	lines := make([]string, 0, len(ring))
	lines = append(lines, ring[start:]...)
	lines = append(lines, ring[:start]...)
	return Chunk{Lines: lines, Offset: offset}, nil
}

func readFrom(path string, offset int64, match string) (Chunk, error) {
	chunk := Chunk{Offset: offset}
	end, err := scan(path, offset, func(line string) {
		if matches(line, match) {
			chunk.Lines = append(chunk.Lines, line)
		}
	})
	if err != nil {
		return chunk, err
	}
	chunk.Offset = end
	return chunk, nil
}

func follow(ctx context.Context, path string, offset int64, q Query) (Chunk, error) {
	deadline := time.NewTimer(q.Wait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	chunk := Chunk{Offset: offset}
	for {
		select {
		case <-ctx.Done():
			return chunk, ctx.Err()
		case <-deadline.C:
			return chunk, nil
		case <-ticker.C:
		}
		next, err := readFrom(path, chunk.Offset, q.Match)
		if err != nil {
			return chunk, err
		}
		chunk = next
		if len(chunk.Lines) > 0 {
			return chunk, nil
		}
	}
}

// scan calls fn for every complete line after offset and returns the offset
// just past the last complete line. A trailing partial line is left for the
// next read.
func scan(path string, offset int64, fn func(string)) (int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	pos := offset
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return pos, nil
		}
		if err != nil {
			return pos, fmt.Errorf("read log file: %w", err)
		}
		pos += int64(len(line))
		text := strings.TrimRight(line, "\r\n")
		if len(text) > maxLineBytes {
			text = text[:maxLineBytes]
		}
		fn(text)
	}
}

func matches(line, match string) bool {
	return match == "" || strings.Contains(line, match)
}
