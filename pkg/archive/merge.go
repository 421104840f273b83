package archive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// recordHeader formats one record's header line: "<len> <filename> <mtime>\n".
func recordHeader(bodyLen int, name string, modTime time.Time) string {
	return fmt.Sprintf("%d %s %d\n", bodyLen, name, modTime.Unix())
}

// Merge concatenates records into one stream file under dir, named
// "<fileType>.merged". time_limit_seconds, when positive, excludes any
// record whose ModTime is older than that many seconds ago — the
// merge step only bundles recently-touched files, mirroring the
// original implementation's merge_agent_info time window.
//
// Returns the number of records actually written and the merged
// file's path. When n is zero no file is created, matching the
// upstream behavior of skipping an empty merge.
func Merge(dir, fileType string, records []Record, timeLimitSeconds int) (n int, mergedPath string, err error) {
	filtered := records
	if timeLimitSeconds > 0 {
		cutoff := time.Now().Add(-time.Duration(timeLimitSeconds) * time.Second)
		filtered = make([]Record, 0, len(records))
		for _, r := range records {
			if !r.ModTime.Before(cutoff) {
				filtered = append(filtered, r)
			}
		}
	}
	if len(filtered) == 0 {
		return 0, "", nil
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Name < filtered[j].Name })

	mergedPath = fmt.Sprintf("%s/%s.merged", dir, strings.TrimPrefix(fileType, "-"))
	f, err := os.Create(mergedPath)
	if err != nil {
		return 0, "", fmt.Errorf("archive: creating merged file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range filtered {
		if _, err := w.WriteString(recordHeader(len(r.Body), r.Name, r.ModTime)); err != nil {
			return 0, "", fmt.Errorf("archive: writing record header: %w", err)
		}
		if _, err := w.Write(r.Body); err != nil {
			return 0, "", fmt.Errorf("archive: writing record body: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return 0, "", fmt.Errorf("archive: flushing merged file: %w", err)
	}
	return len(filtered), mergedPath, nil
}

// Unmerge splits a previously-merged file back into its constituent
// records, in the order they were written.
func Unmerge(mergedPath string) ([]Record, error) {
	f, err := os.Open(mergedPath)
	if err != nil {
		return nil, fmt.Errorf("archive: opening merged file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []Record
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				break
			}
			if err != io.EOF {
				return nil, fmt.Errorf("archive: reading record header: %w", err)
			}
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			break
		}

		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("archive: malformed record header %q", line)
		}
		bodyLen, convErr := strconv.Atoi(parts[0])
		if convErr != nil {
			return nil, fmt.Errorf("archive: malformed record length %q: %w", parts[0], convErr)
		}
		unixTime, convErr := strconv.ParseInt(parts[2], 10, 64)
		if convErr != nil {
			return nil, fmt.Errorf("archive: malformed record mtime %q: %w", parts[2], convErr)
		}

		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("archive: reading record body: %w", err)
		}

		records = append(records, Record{
			Name:    parts[1],
			ModTime: time.Unix(unixTime, 0).UTC(),
			Body:    body,
		})
	}
	return records, nil
}
