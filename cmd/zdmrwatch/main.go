// Command zdmrwatch attaches to a running zdmrd's /events stream and
// renders one terminal progress bar per active download.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"

	"github.com/zdmr/zdmr/runtimeinfo"
)

type progressRecord struct {
	DownloadID    string `json:"id"`
	Status        string `json:"status"`
	BytesDone     int64  `json:"bytes_downloaded"`
	ContentLength *int64 `json:"content_length"`
	ErrorMessage  string `json:"error_message"`
}

type wireEvent struct {
	Kind     string           `json:"kind"`
	Progress []progressRecord `json:"progress"`
}

func main() {
	dbPath := flag.String("db", "zdmr.db", "path to the daemon's database")
	flag.Parse()

	if err := run(*dbPath); err != nil {
		fmt.Fprintln(os.Stderr, "zdmrwatch:", err)
		os.Exit(1)
	}
}

func run(dbPath string) error {
	info, err := runtimeinfo.Read(dbPath)
	if err != nil {
		return fmt.Errorf("zdmrd does not appear to be running against %q: %w", dbPath, err)
	}

	req, err := http.NewRequest(http.MethodGet, "http://"+info.Addr+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+info.Token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("connect to event stream: %s", resp.Status)
	}

	p := mpb.New(mpb.WithWidth(64))
	bars := make(map[string]*mpb.Bar)
	lastBytes := make(map[string]int64)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev wireEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Kind != "progress_batch" {
			continue
		}
		for _, rec := range ev.Progress {
			applyProgress(p, bars, lastBytes, rec)
		}
	}
	p.Wait()
	return scanner.Err()
}

func applyProgress(p *mpb.Progress, bars map[string]*mpb.Bar, lastBytes map[string]int64, rec progressRecord) {
	bar, ok := bars[rec.DownloadID]
	if !ok {
		total := int64(0)
		if rec.ContentLength != nil {
			total = *rec.ContentLength
		}
		label := rec.DownloadID
		if len(label) > 8 {
			label = label[:8]
		}
		bar = p.AddBar(total,
			mpb.PrependDecorators(
				decor.Name(label),
				decor.Percentage(decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .2f / % .2f"),
			),
		)
		bars[rec.DownloadID] = bar
	}
	if rec.ContentLength != nil && bar.Current() == 0 {
		bar.SetTotal(*rec.ContentLength, false)
	}
	delta := rec.BytesDone - lastBytes[rec.DownloadID]
	if delta > 0 {
		bar.IncrInt64(delta)
	}
	lastBytes[rec.DownloadID] = rec.BytesDone

	switch rec.Status {
	case "COMPLETED":
		bar.SetTotal(bar.Current(), true)
	case "ERROR":
		bar.Abort(false)
	}
}
