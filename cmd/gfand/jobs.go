package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franksops/gofanout/store"
)

var jobsRegistry bool

func init() {
	jobsCmd.Flags().BoolVar(&jobsRegistry, "registry", false, "Add priority, directory and creation time from the job store (daemon must be stopped)")
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List registered jobs and when they were last used",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		jobs, err := readMessages(cfg.MessageDir())
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no jobs registered")
			return nil
		}
		if jobsRegistry {
			js, err := store.NewBoltStore(cfg.StorePath())
			if err != nil {
				return fmt.Errorf("open job store (is the daemon running?): %w", err)
			}
			defer js.Close()
			if err := addRecords(js, jobs); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), jobsTable(jobs, time.Now()))
		return nil
	},
}

type jobEntry struct {
	ID        uint32
	Recipient string
	Filters   int
	Used      time.Time
	// Record is set when the job store was consulted and knows the id.
	Record *store.JobRecord
}

// addRecords attaches the persisted record to every job the store knows.
// Artifacts without a record are left as they are.
func addRecords(js store.JobStore, jobs []jobEntry) error {
	for i := range jobs {
		rec, err := js.GetJob(jobs[i].ID)
		if errors.Is(err, store.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("job %d: %w", jobs[i].ID, err)
		}
		jobs[i].Record = rec
	}
	return nil
}

// readMessages lists the job message artifacts in dir, oldest id first.
func readMessages(dir string) ([]jobEntry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read message dir: %w", err)
	}

	var out []jobEntry
	for _, e := range entries {
		id, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		job := jobEntry{ID: uint32(id), Used: info.ModTime()}
		if err := parseMessage(filepath.Join(dir, e.Name()), &job); err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func parseMessage(path string, job *jobEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	section := ""
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "["):
			section = line
		case section == "[destination]" && job.Recipient == "":
			job.Recipient = line
		case section == "[filters]":
			job.Filters++
		}
	}
	return sc.Err()
}

func jobsTable(jobs []jobEntry, now time.Time) string {
	withRecords := false
	for _, j := range jobs {
		withRecords = withRecords || j.Record != nil
	}
	headers := []string{"ID", "RECIPIENT", "FILTERS", "LAST USED"}
	if withRecords {
		headers = append(headers, "PRIORITY", "DIR ID", "CREATED")
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
	for _, j := range jobs {
		row := []string{
			strconv.FormatUint(uint64(j.ID), 10),
			j.Recipient,
			strconv.Itoa(j.Filters),
			humanize.RelTime(j.Used, now, "ago", "from now"),
		}
		if withRecords {
			if rec := j.Record; rec != nil {
				row = append(row,
					strconv.Itoa(int(rec.Priority)),
					strconv.FormatUint(uint64(rec.DirID), 10),
					rec.Created.Format(time.DateTime))
			} else {
				row = append(row, "-", "-", "-")
			}
		}
		t.Row(row...)
	}
	return t.String()
}
