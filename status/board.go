package status

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/btspider/process"
	"github.com/opd-ai/btspider/task"
	"github.com/opd-ai/btspider/worker"
)

const timeLayout = "2006-01-02 15:04:05"

// Listener describes one bound UDP port.
type Listener struct {
	Addr      string
	TableSize int
	Received  uint64
	Sent      uint64
}

// Process is one row of the process registry.
type Process struct {
	ID         int
	Name       string
	Group      string
	Memory     uint64
	PeakMemory uint64
	StartTime  time.Time
}

// Data is everything the board shows.
type Data struct {
	PID          int
	StartTime    time.Time
	TasksStarted uint64
	ActiveTasks  int64
	Records      uint64
	Listeners    []Listener
	Processes    []Process
	Workers      []worker.Snapshot
}

// Processes copies the registry into board rows.
func Processes(reg *process.Registry) []Process {
	var rows []Process
	reg.Range(func(info *process.Info) bool {
		mem, peak := info.Memory()
		rows = append(rows, Process{
			ID:         info.ID,
			Name:       info.Name,
			Group:      info.Group,
			Memory:     mem,
			PeakMemory: peak,
			StartTime:  info.StartTime,
		})
		return true
	})
	return rows
}

// Render writes the board as aligned text sections.
func Render(w io.Writer, d Data) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "Monitor Board")
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "Server\tPid\tTasksStarted\tActiveTasks\tRecords\tStartTime")
	fmt.Fprintf(tw, "\t%d\t%d\t%d\t%d\t%s\n",
		d.PID, d.TasksStarted, d.ActiveTasks, d.Records, formatTime(d.StartTime))
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "Listener\tAddress\tNodes\tReceived\tSent")
	for _, l := range d.Listeners {
		fmt.Fprintf(tw, "\t%s\t%d\t%d\t%d\n", l.Addr, l.TableSize, l.Received, l.Sent)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "Process\tId\tName\tGroup\tMemoryUsage\tMemoryPeakUsage\tStartTime")
	for _, p := range d.Processes {
		fmt.Fprintf(tw, "\t%d\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Name, p.Group, megabytes(p.Memory), megabytes(p.PeakMemory), formatTime(p.StartTime))
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "Worker\tId\tWaiting\tRunning\tSuccess\tFailure\tExceed")
	for _, s := range d.Workers {
		fmt.Fprintf(tw, "\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.ID, s.Waiting, s.Running, s.Succeeded, s.Failed, s.Exceeded)
	}
	fmt.Fprintln(tw)

	fmt.Fprint(tw, "Task\tId")
	for _, k := range task.Kinds {
		fmt.Fprintf(tw, "\t%s", k)
	}
	fmt.Fprintln(tw)
	for _, s := range d.Workers {
		fmt.Fprintf(tw, "\t%d", s.ID)
		for _, k := range task.Kinds {
			fmt.Fprintf(tw, "\t%d", s.Kinds[k])
		}
		fmt.Fprintln(tw)
	}

	return tw.Flush()
}

// WriteFile renders the board into a sibling temporary file and renames it
// over path.
func WriteFile(path string, d Data) error {
	var buf bytes.Buffer
	if err := Render(&buf, d); err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create status file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close status file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace status file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "WriteFile",
		"path":     path,
		"workers":  len(d.Workers),
	}).Debug("Status board written")
	return nil
}

func megabytes(b uint64) string {
	return fmt.Sprintf("%.2fMB", float64(b)/(1024*1024))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}
