// Package logs reads pages of the daemon log file for operator tooling.
//
// Pages are addressed by byte offset so the CLI can poll for new lines
// without re-reading the whole file: a negative offset means "start from
// the last N lines", and every page returns the offset to resume from.
package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Options controls a single page read.
type Options struct {
	// Offset is the byte position to read from. Negative means tail the
	// last MaxLines lines and report the end-of-file offset.
	Offset int64
	// MaxLines caps the tail size when Offset is negative.
	MaxLines int
	// WaitFor, when positive, blocks up to that long for new lines to
	// appear past Offset before returning an empty page.
	WaitFor time.Duration
}

// Page is one read of the log file plus the offset to resume from.
type Page struct {
	Lines      []string
	NextOffset int64
}

const pollInterval = 250 * time.Millisecond

// ReadPage returns log lines according to opts. A missing file yields an
// empty page at offset zero so callers can poll before the daemon has
// written anything.
func ReadPage(ctx context.Context, path string, opts Options) (Page, error) {
	page := Page{NextOffset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			page.NextOffset = 0
			return page, nil
		}
		return page, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return page, fmt.Errorf("log path %q is a directory", path)
	}

	if opts.Offset < 0 {
		lines, end, err := readTail(path, opts.MaxLines)
		if err != nil {
			return page, err
		}
		page.Lines = lines
		page.NextOffset = end
		if len(lines) == 0 && opts.WaitFor > 0 {
			return waitForLines(ctx, path, end, opts.WaitFor)
		}
		return page, nil
	}

	offset := opts.Offset
	if offset > info.Size() {
		// The file was rotated or truncated; resume at the new end.
		offset = info.Size()
	}
	lines, end, err := readFrom(path, offset)
	if err != nil {
		return page, err
	}
	page.Lines = lines
	page.NextOffset = end
	if len(lines) == 0 && opts.WaitFor > 0 {
		return waitForLines(ctx, path, end, opts.WaitFor)
	}
	return page, nil
}

func readTail(path string, maxLines int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if maxLines <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	scanner := newLineScanner(file)
	ring := make([]string, maxLines)
	count := 0
	next := 0
	for scanner.Scan() {
		ring[next] = scanner.Text()
		next = (next + 1) % maxLines
		if count < maxLines {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	lines := make([]string, count)
	if count == maxLines {
		for i := range lines {
			lines[i] = ring[(next+i)%maxLines]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, end, nil
}

func readFrom(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	scanner := newLineScanner(file)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	end, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}
	return lines, end, nil
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration) (Page, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	page := Page{NextOffset: offset}
	for {
		lines, end, err := readFrom(path, offset)
		if err != nil {
			return page, err
		}
		page.NextOffset = end
		if len(lines) > 0 {
			page.Lines = lines
			return page, nil
		}
		if time.Now().After(deadline) {
			return page, nil
		}
		select {
		case <-ctx.Done():
			return page, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}
