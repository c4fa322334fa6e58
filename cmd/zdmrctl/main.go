// Command zdmrctl is a thin urfave/cli client for a running zdmrd's local
// control surface: it adds, pauses, resumes, retries and deletes
// downloads, lists their status, and tweaks global settings.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli"

	"github.com/zdmr/zdmr/runtimeinfo"
)

func main() {
	app := cli.NewApp()
	app.Name = "zdmrctl"
	app.Usage = "control a running zdmrd daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "db", Value: "zdmr.db", Usage: "path to the daemon's database (locates its runtime info sidecar)"},
	}
	app.Commands = []cli.Command{
		addCommand,
		listCommand,
		pauseCommand,
		resumeCommand,
		retryCommand,
		deleteCommand,
		pauseAllCommand,
		resumeAllCommand,
		setLimitCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "zdmrctl:", err)
		os.Exit(1)
	}
}

type controlClient struct {
	addr  string
	token string
}

func clientFromContext(c *cli.Context) (*controlClient, error) {
	info, err := runtimeinfo.Read(c.GlobalString("db"))
	if err != nil {
		return nil, fmt.Errorf("zdmrd does not appear to be running against %q: %w", c.GlobalString("db"), err)
	}
	return &controlClient{addr: info.Addr, token: info.Token}, nil
}

func (cc *controlClient) do(method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://"+cc.addr+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cc.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(out)))
	}
	return out, nil
}

var addCommand = cli.Command{
	Name:      "add",
	Usage:     "queue one or more urls for download",
	ArgsUsage: "URL [URL...]",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "dest", Required: true, Usage: "destination directory"},
		cli.StringFlag{Name: "batch-id", Usage: "optional batch id to group these downloads"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return cli.NewExitError("at least one url is required", 1)
		}
		cc, err := clientFromContext(c)
		if err != nil {
			return err
		}
		req := map[string]interface{}{
			"urls":     []string(c.Args()),
			"dest_dir": c.String("dest"),
		}
		if b := c.String("batch-id"); b != "" {
			req["batch_id"] = b
		}
		_, err = cc.do(http.MethodPost, "/downloads", req)
		return err
	},
}

var listCommand = cli.Command{
	Name:  "list",
	Usage: "list all known downloads",
	Action: func(c *cli.Context) error {
		cc, err := clientFromContext(c)
		if err != nil {
			return err
		}
		out, err := cc.do(http.MethodGet, "/downloads", nil)
		if err != nil {
			return err
		}
		var rows []map[string]interface{}
		if err := json.Unmarshal(out, &rows); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.App.Writer, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tBYTES\tURL")
		for _, r := range rows {
			fmt.Fprintf(tw, "%v\t%v\t%v\t%v\n", r["id"], r["status"], r["bytes_downloaded"], r["original_url"])
		}
		return tw.Flush()
	},
}

func idActionCommand(name, method, pathSuffix, usage string) cli.Command {
	return cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "DOWNLOAD_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.NewExitError("exactly one download id is required", 1)
			}
			cc, err := clientFromContext(c)
			if err != nil {
				return err
			}
			_, err = cc.do(method, "/downloads/"+c.Args().First()+pathSuffix, nil)
			return err
		},
	}
}

var pauseCommand = idActionCommand("pause", http.MethodPost, "/pause", "pause one download")
var resumeCommand = idActionCommand("resume", http.MethodPost, "/resume", "resume one download")
var retryCommand = idActionCommand("retry", http.MethodPost, "/retry", "retry one download from scratch")
var deleteCommand = idActionCommand("delete", http.MethodDelete, "", "delete one download and its files")

var pauseAllCommand = cli.Command{
	Name:  "pause-all",
	Usage: "pause every active download",
	Action: func(c *cli.Context) error {
		cc, err := clientFromContext(c)
		if err != nil {
			return err
		}
		_, err = cc.do(http.MethodPost, "/pause-all", nil)
		return err
	},
}

var resumeAllCommand = cli.Command{
	Name:  "resume-all",
	Usage: "resume every paused or queued download",
	Action: func(c *cli.Context) error {
		cc, err := clientFromContext(c)
		if err != nil {
			return err
		}
		_, err = cc.do(http.MethodPost, "/resume-all", nil)
		return err
	},
}

var setLimitCommand = cli.Command{
	Name:      "set-limit",
	Usage:     "set the global bandwidth cap in bytes/sec (0 disables limiting)",
	ArgsUsage: "BYTES_PER_SEC",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("exactly one byte-per-second value is required", 1)
		}
		bps, err := strconv.ParseInt(c.Args().First(), 10, 64)
		if err != nil {
			return cli.NewExitError("invalid bytes/sec value", 1)
		}
		cc, err := clientFromContext(c)
		if err != nil {
			return err
		}
		_, err = cc.do(http.MethodPost, "/settings", map[string]interface{}{"bandwidth_limit_bps": bps})
		return err
	},
}
